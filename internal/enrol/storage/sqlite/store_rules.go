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
)

const ruleColumns = `id, trigger_unit_id, target_unit_id, role_id, start_at, duration_seconds, notify_on_grant, template, active`

// PutRule inserts or replaces a rule record.
func (s *Store) PutRule(ctx context.Context, rule domain.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	rule, err := domain.NormalizeRule(rule)
	if err != nil {
		return err
	}
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("rule id is required")
	}

	now := toMillis(s.now())
	const putSQL = `
INSERT INTO rules (id, trigger_unit_id, target_unit_id, role_id, start_at, duration_seconds, notify_on_grant, template, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    trigger_unit_id = excluded.trigger_unit_id,
    target_unit_id = excluded.target_unit_id,
    role_id = excluded.role_id,
    start_at = excluded.start_at,
    duration_seconds = excluded.duration_seconds,
    notify_on_grant = excluded.notify_on_grant,
    template = excluded.template,
    active = excluded.active,
    updated_at = excluded.updated_at
`
	var startAt int64
	if !rule.StartAt.IsZero() {
		startAt = toMillis(rule.StartAt)
	}
	_, err = s.sqlDB.ExecContext(ctx, putSQL,
		rule.ID,
		rule.TriggerUnitID,
		rule.TargetUnitID,
		rule.RoleID,
		startAt,
		int64(rule.Duration/time.Second),
		boolToInt(rule.NotifyOnGrant),
		rule.Template,
		boolToInt(rule.Active),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("put rule: %w", err)
	}
	return nil
}

// GetRule returns one rule by id, or storage.ErrNotFound.
func (s *Store) GetRule(ctx context.Context, ruleID string) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Rule{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, ruleID)
	return scanRule(row)
}

// ListActiveByTrigger returns active rules fired by completion of the unit.
func (s *Store) ListActiveByTrigger(ctx context.Context, triggerUnitID string) ([]domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE trigger_unit_id = ? AND active = 1 ORDER BY id`,
		triggerUnitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rules by trigger: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// FindByTarget returns the first rule granting membership in the unit.
func (s *Store) FindByTarget(ctx context.Context, targetUnitID string) (domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rule{}, err
	}
	if s == nil || s.sqlDB == nil {
		return domain.Rule{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE target_unit_id = ? ORDER BY id LIMIT 1`,
		targetUnitID,
	)
	return scanRule(row)
}

// DeleteByTarget removes every rule whose target unit matches and reports
// how many were deleted.
func (s *Store) DeleteByTarget(ctx context.Context, targetUnitID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rules WHERE target_unit_id = ?`, targetUnitID)
	if err != nil {
		return 0, fmt.Errorf("delete rules by target: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted rules: %w", err)
	}
	return int(deleted), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (domain.Rule, error) {
	var (
		rule            domain.Rule
		startAt         int64
		durationSeconds int64
		notify          int
		active          int
	)
	err := row.Scan(
		&rule.ID,
		&rule.TriggerUnitID,
		&rule.TargetUnitID,
		&rule.RoleID,
		&startAt,
		&durationSeconds,
		&notify,
		&rule.Template,
		&active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Rule{}, storage.ErrNotFound
		}
		return domain.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	if startAt > 0 {
		rule.StartAt = fromMillis(startAt)
	}
	rule.Duration = time.Duration(durationSeconds) * time.Second
	rule.NotifyOnGrant = notify != 0
	rule.Active = active != 0
	return rule, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
