package domain

import "time"

// MembershipStatus tracks whether a membership currently confers access.
type MembershipStatus string

const (
	// MembershipActive confers role access in the unit.
	MembershipActive MembershipStatus = "active"
	// MembershipSuspended keeps the enrolment record but removes role access.
	MembershipSuspended MembershipStatus = "suspended"
)

// Membership is a user's time-bounded role assignment within a unit.
type Membership struct {
	UnitID     string
	UserID     string
	RoleID     string
	Status     MembershipStatus
	ValidFrom  time.Time
	ValidUntil *time.Time // nil = unbounded
	UpdatedAt  time.Time
}

// Expired reports whether the membership's end date has passed.
func (m Membership) Expired(now time.Time) bool {
	return m.ValidUntil != nil && m.ValidUntil.Before(now)
}

// ExpiryAction selects what the sweeper does with an expired membership.
type ExpiryAction string

const (
	// ExpirySuspend keeps enrolment history but removes role access.
	ExpirySuspend ExpiryAction = "suspend"
	// ExpiryUnenrol removes the membership entirely.
	ExpiryUnenrol ExpiryAction = "unenrol"
)

// ParseExpiryAction maps a configuration string to an ExpiryAction,
// defaulting to suspend.
func ParseExpiryAction(value string) ExpiryAction {
	if ExpiryAction(value) == ExpiryUnenrol {
		return ExpiryUnenrol
	}
	return ExpirySuspend
}
