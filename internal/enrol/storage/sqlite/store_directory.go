package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coursekit/enrolflow/internal/enrol/storage"
)

// PutUnit inserts or replaces a unit record.
func (s *Store) PutUnit(ctx context.Context, unit storage.UnitRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(unit.ID) == "" {
		return fmt.Errorf("unit id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO units (id, name) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		unit.ID, unit.Name,
	)
	if err != nil {
		return fmt.Errorf("put unit: %w", err)
	}
	return nil
}

// DeleteUnit removes a unit record; the engine's unit-deleted hook handles
// the dependent rule cleanup.
func (s *Store) DeleteUnit(ctx context.Context, unitID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, unitID); err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	return nil
}

// UnitExists reports whether the unit still resolves.
func (s *Store) UnitExists(ctx context.Context, unitID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM units WHERE id = ?`, unitID)
}

// GetUnit returns one unit record, or storage.ErrNotFound.
func (s *Store) GetUnit(ctx context.Context, unitID string) (storage.UnitRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.UnitRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UnitRecord{}, fmt.Errorf("storage is not configured")
	}
	var unit storage.UnitRecord
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id, name FROM units WHERE id = ?`, unitID).
		Scan(&unit.ID, &unit.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UnitRecord{}, storage.ErrNotFound
		}
		return storage.UnitRecord{}, fmt.Errorf("get unit: %w", err)
	}
	return unit, nil
}

// PutRole inserts or replaces a role record.
func (s *Store) PutRole(ctx context.Context, role storage.RoleRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(role.ID) == "" {
		return fmt.Errorf("role id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO roles (id, name) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		role.ID, role.Name,
	)
	if err != nil {
		return fmt.Errorf("put role: %w", err)
	}
	return nil
}

// RoleExists reports whether the role still resolves.
func (s *Store) RoleExists(ctx context.Context, roleID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM roles WHERE id = ?`, roleID)
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(ctx context.Context, user storage.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, first_name, last_name, email, locale) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    first_name = excluded.first_name,
    last_name = excluded.last_name,
    email = excluded.email,
    locale = excluded.locale`,
		user.ID, user.FirstName, user.LastName, user.Email, user.Locale,
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns one user record, or storage.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, userID string) (storage.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.UserRecord{}, fmt.Errorf("storage is not configured")
	}
	var user storage.UserRecord
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, locale FROM users WHERE id = ?`, userID,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Locale)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.UserRecord{}, storage.ErrNotFound
		}
		return storage.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// MarkUserDirty records that the user's cached access state is stale.
// Downstream readers clear the marker once they rebuild their view.
func (s *Store) MarkUserDirty(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO user_access_dirty (user_id, marked_at) VALUES (?, ?)
ON CONFLICT(user_id) DO UPDATE SET marked_at = excluded.marked_at`,
		userID, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("mark user dirty: %w", err)
	}
	return nil
}

// IsUserDirty reports whether a staleness marker is present for the user.
func (s *Store) IsUserDirty(ctx context.Context, userID string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM user_access_dirty WHERE user_id = ?`, userID)
}

// ClearUserDirty removes the staleness marker after a rebuild.
func (s *Store) ClearUserDirty(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM user_access_dirty WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear user dirty: %w", err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, query, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx, query, key).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
