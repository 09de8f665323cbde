package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"drivemirror/internal/mirror"
)

// Permission operations

func (s *SQLiteDatabase) InsertPermission(ctx context.Context, perm mirror.Permission) error {
	err := s.inTx(ctx, func(q *Queries) error {
		if err := syncGrantee(ctx, q, perm); err != nil {
			return err
		}
		return q.UpsertPermission(ctx, fromPermission(perm))
	})
	if err != nil {
		return fmt.Errorf("inserting permission %s on %s: %w", perm.ID, perm.FileID, err)
	}
	return nil
}

func (s *SQLiteDatabase) RemovePermission(ctx context.Context, fileID, id string) (*mirror.Permission, error) {
	var removed *mirror.Permission
	err := s.inTx(ctx, func(q *Queries) error {
		row, err := q.GetPermission(ctx, fileID, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		perms, err := hydratePermissions(ctx, q, []permissionRow{row})
		if err != nil {
			return err
		}
		if err := q.DeletePermission(ctx, fileID, id); err != nil {
			return err
		}
		removed = &perms[0]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("removing permission %s on %s: %w", id, fileID, err)
	}
	return removed, nil
}

func (s *SQLiteDatabase) FindPermission(ctx context.Context, fileID, id string) (*mirror.Permission, error) {
	row, err := s.queries.GetPermission(ctx, fileID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding permission %s on %s: %w", id, fileID, err)
	}
	perms, err := hydratePermissions(ctx, s.queries, []permissionRow{row})
	if err != nil {
		return nil, fmt.Errorf("finding permission %s on %s: %w", id, fileID, err)
	}
	return &perms[0], nil
}

func (s *SQLiteDatabase) FindPermissions(ctx context.Context, fileID string, ids []string) ([]mirror.Permission, error) {
	rows, err := s.queries.GetPermissionsForFiles(ctx, []string{fileID})
	if err != nil {
		return nil, fmt.Errorf("finding permissions on %s: %w", fileID, err)
	}
	byID := make(map[string]permissionRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	ordered := make([]permissionRow, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	perms, err := hydratePermissions(ctx, s.queries, ordered)
	if err != nil {
		return nil, fmt.Errorf("finding permissions on %s: %w", fileID, err)
	}
	return perms, nil
}

func (s *SQLiteDatabase) FindPermissionsByEmail(ctx context.Context, email string) ([]mirror.Permission, error) {
	rows, err := s.queries.GetListedPermissionsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("finding permissions for %s: %w", email, err)
	}
	perms, err := hydratePermissions(ctx, s.queries, rows)
	if err != nil {
		return nil, fmt.Errorf("finding permissions for %s: %w", email, err)
	}
	return perms, nil
}

func (s *SQLiteDatabase) UpdatePermission(ctx context.Context, perm mirror.Permission) error {
	err := s.inTx(ctx, func(q *Queries) error {
		if err := syncGrantee(ctx, q, perm); err != nil {
			return err
		}
		n, err := q.UpdatePermission(ctx, fromPermission(perm))
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating permission %s on %s: %w", perm.ID, perm.FileID, err)
	}
	return nil
}
