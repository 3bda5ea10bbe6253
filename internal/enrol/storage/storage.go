package storage

import (
	"context"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// GroupRecord is a named subdivision of members within a unit.
type GroupRecord struct {
	ID     string
	UnitID string
	Name   string
}

// UnitRecord captures the unit metadata the engine and renderer read.
type UnitRecord struct {
	ID   string
	Name string
}

// RoleRecord captures a role definition from the role directory.
type RoleRecord struct {
	ID   string
	Name string
}

// UserRecord captures the user fields the notification renderer substitutes.
type UserRecord struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Locale    string
}

// FullName returns the display name used in rendered notifications.
func (u UserRecord) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// RuleStore persists enrolment rules.
type RuleStore interface {
	PutRule(ctx context.Context, rule domain.Rule) error
	GetRule(ctx context.Context, id string) (domain.Rule, error)
	// ListActiveByTrigger returns active rules fired by completion of a unit.
	ListActiveByTrigger(ctx context.Context, triggerUnitID string) ([]domain.Rule, error)
	// FindByTarget returns the first rule granting membership in a unit, or
	// ErrNotFound. With duplicate targets the choice is the store's ordering.
	FindByTarget(ctx context.Context, targetUnitID string) (domain.Rule, error)
	// DeleteByTarget removes every rule whose target unit matches. Rules
	// referencing the unit as trigger are intentionally left alone.
	DeleteByTarget(ctx context.Context, targetUnitID string) (int, error)
}

// GrantParams describes one membership upsert.
type GrantParams struct {
	UnitID     string
	UserID     string
	RoleID     string
	ValidFrom  time.Time
	ValidUntil *time.Time
}

// MembershipStore owns membership records. Grant is an atomic per-record
// upsert: granting an existing membership refreshes its window and
// reactivates it rather than erroring.
type MembershipStore interface {
	Grant(ctx context.Context, params GrantParams) error
	GetMembership(ctx context.Context, unitID, userID string) (domain.Membership, error)
	// ListExpired returns active memberships whose end date precedes now.
	ListExpired(ctx context.Context, now time.Time) ([]domain.Membership, error)
	// Suspend keeps the enrolment record but removes role access.
	Suspend(ctx context.Context, unitID, userID string) error
	// Unenrol removes the membership entirely.
	Unenrol(ctx context.Context, unitID, userID string) error
}

// GroupDirectory resolves sub-groups within units and mutates group membership.
type GroupDirectory interface {
	// ListUserGroups returns the sub-groups a user belongs to within a unit.
	ListUserGroups(ctx context.Context, unitID, userID string) ([]GroupRecord, error)
	// FindGroupByName resolves a sub-group by display name within a unit,
	// returning ErrNotFound when no such group exists. With duplicate names
	// the first match by the store's ordering wins.
	FindGroupByName(ctx context.Context, unitID, name string) (GroupRecord, error)
	// AddGroupMember adds a user to a sub-group; adding an existing member
	// is a no-op.
	AddGroupMember(ctx context.Context, groupID, userID string) error
}

// UnitDirectory answers unit existence and metadata lookups.
type UnitDirectory interface {
	UnitExists(ctx context.Context, unitID string) (bool, error)
	GetUnit(ctx context.Context, unitID string) (UnitRecord, error)
}

// RoleDirectory answers role existence and metadata lookups.
type RoleDirectory interface {
	RoleExists(ctx context.Context, roleID string) (bool, error)
}

// UserDirectory answers user lookups for notification rendering.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (UserRecord, error)
}

// JobQueue enqueues deferred notification jobs with at-least-once,
// eventually-consistent execution.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.NotificationJob) error
}

// AccessCache invalidates downstream per-user cached access state.
type AccessCache interface {
	MarkUserDirty(ctx context.Context, userID string) error
}
