package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// Grant upserts a membership. Granting an existing membership refreshes its
// window and reactivates it; the engine and the sweeper share this record
// with last-writer-wins semantics.
func (s *Store) Grant(ctx context.Context, params storage.GrantParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(params.UnitID) == "" {
		return apperrors.New(apperrors.CodeMembershipEmptyUnit, "unit id is required")
	}
	if strings.TrimSpace(params.UserID) == "" {
		return apperrors.New(apperrors.CodeMembershipEmptyUser, "user id is required")
	}
	if strings.TrimSpace(params.RoleID) == "" {
		return fmt.Errorf("role id is required")
	}
	if params.ValidFrom.IsZero() {
		params.ValidFrom = s.now()
	}

	const grantSQL = `
INSERT INTO memberships (unit_id, user_id, role_id, status, valid_from, valid_until, updated_at)
VALUES (?, ?, ?, 'active', ?, ?, ?)
ON CONFLICT(unit_id, user_id) DO UPDATE SET
    role_id = excluded.role_id,
    status = 'active',
    valid_from = excluded.valid_from,
    valid_until = excluded.valid_until,
    updated_at = excluded.updated_at
`
	_, err := s.sqlDB.ExecContext(ctx, grantSQL,
		params.UnitID,
		params.UserID,
		params.RoleID,
		toMillis(params.ValidFrom),
		toNullMillis(params.ValidUntil),
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("grant membership: %w", err)
	}
	return nil
}

// GetMembership returns one membership record, or storage.ErrNotFound.
func (s *Store) GetMembership(ctx context.Context, unitID, userID string) (domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return domain.Membership{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Membership{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT unit_id, user_id, role_id, status, valid_from, valid_until, updated_at
FROM memberships WHERE unit_id = ? AND user_id = ?`,
		unitID, userID,
	)
	return scanMembership(row)
}

// ListExpired returns active memberships whose end date precedes now.
// Suspended and unbounded memberships never appear, which keeps sweeper
// re-runs a no-op for already-processed records.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]domain.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT unit_id, user_id, role_id, status, valid_from, valid_until, updated_at
FROM memberships
WHERE status = 'active' AND valid_until IS NOT NULL AND valid_until < ?
ORDER BY unit_id, user_id`,
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return memberships, nil
}

// Suspend keeps the enrolment record but removes role access.
func (s *Store) Suspend(ctx context.Context, unitID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE memberships SET status = 'suspended', updated_at = ?
WHERE unit_id = ? AND user_id = ?`,
		toMillis(s.now()), unitID, userID,
	)
	if err != nil {
		return fmt.Errorf("suspend membership: %w", err)
	}
	return nil
}

// Unenrol removes the membership entirely.
func (s *Store) Unenrol(ctx context.Context, unitID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM memberships WHERE unit_id = ? AND user_id = ?`, unitID, userID)
	if err != nil {
		return fmt.Errorf("unenrol membership: %w", err)
	}
	return nil
}

func scanMembership(row rowScanner) (domain.Membership, error) {
	var (
		m          domain.Membership
		status     string
		validFrom  int64
		validUntil sql.NullInt64
		updatedAt  int64
	)
	err := row.Scan(&m.UnitID, &m.UserID, &m.RoleID, &status, &validFrom, &validUntil, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Membership{}, storage.ErrNotFound
		}
		return domain.Membership{}, fmt.Errorf("scan membership: %w", err)
	}
	m.Status = domain.MembershipStatus(status)
	m.ValidFrom = fromMillis(validFrom)
	m.ValidUntil = fromNullMillis(validUntil)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, nil
}
