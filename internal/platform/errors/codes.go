// Package errors provides structured error handling for enrolflow.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Rule configuration errors
	CodeRuleRoleMissing  Code = "RULE_ROLE_MISSING"
	CodeRuleUnitMissing  Code = "RULE_UNIT_MISSING"
	CodeRuleEmptyTrigger Code = "RULE_EMPTY_TRIGGER_UNIT"
	CodeRuleEmptyTarget  Code = "RULE_EMPTY_TARGET_UNIT"
	CodeRuleEmptyRole    Code = "RULE_EMPTY_ROLE"
	CodeRuleBadDuration  Code = "RULE_NEGATIVE_DURATION"

	// Membership errors
	CodeMembershipEmptyUnit Code = "MEMBERSHIP_EMPTY_UNIT_ID"
	CodeMembershipEmptyUser Code = "MEMBERSHIP_EMPTY_USER_ID"

	// Completion signal errors
	CodeSignalEmptyUnit Code = "SIGNAL_EMPTY_UNIT_ID"
	CodeSignalEmptyUser Code = "SIGNAL_EMPTY_USER_ID"

	// Notification errors
	CodeNotificationTransport Code = "NOTIFICATION_TRANSPORT_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps an error code to the status the intake surface reports.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRuleEmptyTrigger, CodeRuleEmptyTarget, CodeRuleEmptyRole,
		CodeRuleBadDuration, CodeMembershipEmptyUnit, CodeMembershipEmptyUser,
		CodeSignalEmptyUnit, CodeSignalEmptyUser:
		return http.StatusBadRequest
	case CodeNotificationTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
