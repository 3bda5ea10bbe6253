// Package sweeper removes role access from memberships whose end date
// has passed. The sweep is re-entrant and safe to run on any schedule:
// each pass acts only on memberships still active at sweep time.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
)

// Sweeper scans for expired memberships and applies the configured action.
type Sweeper struct {
	memberships storage.MembershipStore
	action      domain.ExpiryAction
	clock       func() time.Time
}

// New creates a sweeper applying the given expiry action.
func New(memberships storage.MembershipStore, action domain.ExpiryAction) *Sweeper {
	return &Sweeper{
		memberships: memberships,
		action:      action,
		clock:       time.Now,
	}
}

// SetClock overrides the sweeper's time source for deterministic tests.
func (s *Sweeper) SetClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// Run performs one sweep pass and returns a human-readable summary.
// Individual membership failures are logged and skipped so one bad record
// never blocks the rest; the skipped record is retried on the next pass.
func (s *Sweeper) Run(ctx context.Context) (string, error) {
	if s == nil || s.memberships == nil {
		return "", fmt.Errorf("membership store is not configured")
	}

	now := s.clock()
	expired, err := s.memberships.ListExpired(ctx, now)
	if err != nil {
		return "", fmt.Errorf("list expired memberships: %w", err)
	}
	if len(expired) == 0 {
		return "No expired memberships detected", nil
	}

	processed := 0
	for _, membership := range expired {
		if err := s.apply(ctx, membership); err != nil {
			log.Printf("sweep membership %s/%s: %v", membership.UnitID, membership.UserID, err)
			continue
		}
		processed++
	}
	return fmt.Sprintf("%d expired memberships processed", processed), nil
}

func (s *Sweeper) apply(ctx context.Context, membership domain.Membership) error {
	switch s.action {
	case domain.ExpiryUnenrol:
		return s.memberships.Unenrol(ctx, membership.UnitID, membership.UserID)
	default:
		return s.memberships.Suspend(ctx, membership.UnitID, membership.UserID)
	}
}
