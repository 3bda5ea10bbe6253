package domain

import (
	"strings"
	"time"

	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// Rule links completion of a trigger unit to membership in a target unit.
//
// Cycle detection is advisory only: a rule whose trigger and target match is
// accepted here and surfaced through path resolution instead.
type Rule struct {
	ID            string
	TriggerUnitID string
	TargetUnitID  string
	RoleID        string
	StartAt       time.Time     // configured membership start; zero means "start on grant"
	Duration      time.Duration // 0 = unbounded
	NotifyOnGrant bool
	Template      string // optional; empty falls back to the default template
	Active        bool
}

// NormalizeRule trims identifiers and validates the fields the engine relies on.
func NormalizeRule(rule Rule) (Rule, error) {
	rule.TriggerUnitID = strings.TrimSpace(rule.TriggerUnitID)
	rule.TargetUnitID = strings.TrimSpace(rule.TargetUnitID)
	rule.RoleID = strings.TrimSpace(rule.RoleID)
	if rule.TriggerUnitID == "" {
		return Rule{}, apperrors.New(apperrors.CodeRuleEmptyTrigger, "trigger unit id is required")
	}
	if rule.TargetUnitID == "" {
		return Rule{}, apperrors.New(apperrors.CodeRuleEmptyTarget, "target unit id is required")
	}
	if rule.RoleID == "" {
		return Rule{}, apperrors.New(apperrors.CodeRuleEmptyRole, "role id is required")
	}
	if rule.Duration < 0 {
		return Rule{}, apperrors.New(apperrors.CodeRuleBadDuration, "membership duration cannot be negative")
	}
	return rule, nil
}

// Window computes the validity window a grant receives at the given time.
//
// The start never lies in the past: a configured start date that has already
// passed collapses to now. A zero duration leaves the membership unbounded.
func (r Rule) Window(now time.Time) (validFrom time.Time, validUntil *time.Time) {
	validFrom = now.UTC()
	if r.StartAt.After(validFrom) {
		validFrom = r.StartAt.UTC()
	}
	if r.Duration > 0 {
		until := validFrom.Add(r.Duration)
		validUntil = &until
	}
	return validFrom, validUntil
}
