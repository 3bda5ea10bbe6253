package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/coursekit/enrolflow/internal/enrol/storage"
)

// PutGroup inserts or replaces a sub-group record.
func (s *Store) PutGroup(ctx context.Context, group storage.GroupRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(group.ID) == "" {
		return fmt.Errorf("group id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO unit_groups (id, unit_id, name) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET unit_id = excluded.unit_id, name = excluded.name`,
		group.ID, group.UnitID, group.Name,
	)
	if err != nil {
		return fmt.Errorf("put group: %w", err)
	}
	return nil
}

// ListUserGroups returns the sub-groups a user belongs to within a unit.
func (s *Store) ListUserGroups(ctx context.Context, unitID, userID string) ([]storage.GroupRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT g.id, g.unit_id, g.name
FROM unit_groups g
JOIN group_members m ON m.group_id = g.id
WHERE g.unit_id = ? AND m.user_id = ?
ORDER BY g.name, g.id`,
		unitID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list user groups: %w", err)
	}
	defer rows.Close()

	var groups []storage.GroupRecord
	for rows.Next() {
		var g storage.GroupRecord
		if err := rows.Scan(&g.ID, &g.UnitID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// FindGroupByName resolves a sub-group by display name within a unit. With
// duplicate names the first match by name/id ordering wins.
func (s *Store) FindGroupByName(ctx context.Context, unitID, name string) (storage.GroupRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.GroupRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.GroupRecord{}, fmt.Errorf("storage is not configured")
	}
	var g storage.GroupRecord
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT id, unit_id, name FROM unit_groups
WHERE unit_id = ? AND name = ?
ORDER BY id LIMIT 1`,
		unitID, name,
	).Scan(&g.ID, &g.UnitID, &g.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.GroupRecord{}, storage.ErrNotFound
		}
		return storage.GroupRecord{}, fmt.Errorf("find group by name: %w", err)
	}
	return g, nil
}

// AddGroupMember adds a user to a sub-group; re-adding an existing member is
// a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO group_members (group_id, user_id, added_at) VALUES (?, ?, ?)
ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// IsGroupMember reports whether the user belongs to the sub-group.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check group member: %w", err)
	}
	return true, nil
}
