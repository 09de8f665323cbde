package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"drivemirror/internal/mirror"
)

// File operations

func (s *SQLiteDatabase) CreateFile(ctx context.Context, file *mirror.File) error {
	err := s.inTx(ctx, func(q *Queries) error {
		_, err := createFile(ctx, q, file)
		return err
	})
	if err != nil {
		return fmt.Errorf("creating file %s: %w", file.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) CreateFileTree(ctx context.Context, root *mirror.TreeNode) error {
	var walk func(q *Queries, node *mirror.TreeNode, parentID string) error
	walk = func(q *Queries, node *mirror.TreeNode, parentID string) error {
		f := node.File
		if parentID != "" && len(f.Parents) == 0 {
			f = f.Clone()
			f.Parents = []string{parentID}
		}
		if _, err := createFile(ctx, q, f); err != nil {
			return fmt.Errorf("creating file %s: %w", f.ID, err)
		}
		for _, child := range node.Children {
			if err := walk(q, child, f.ID); err != nil {
				return err
			}
		}
		return nil
	}

	if err := s.inTx(ctx, func(q *Queries) error { return walk(q, root, "") }); err != nil {
		return fmt.Errorf("creating file tree: %w", err)
	}
	return nil
}

// createFile inserts file unless its id exists. A newly inserted file is
// appended to its canonical parent's children when that parent is stored.
func createFile(ctx context.Context, q *Queries, file *mirror.File) (bool, error) {
	inserted, err := q.InsertFileIfAbsent(ctx, fromFile(file))
	if err != nil || !inserted {
		return false, err
	}
	if err := ensureOwners(ctx, q, file.Owners); err != nil {
		return false, err
	}
	for _, p := range file.Permissions {
		if p.FileID == "" {
			p.FileID = file.ID
		}
		if p.FileID != file.ID {
			return false, fmt.Errorf("permission %s belongs to file %q", p.ID, p.FileID)
		}
		if err := syncGrantee(ctx, q, p); err != nil {
			return false, err
		}
		if err := q.UpsertPermission(ctx, fromPermission(p)); err != nil {
			return false, fmt.Errorf("storing permission %s: %w", p.ID, err)
		}
	}

	parentID := file.Parent()
	if parentID == "" {
		return true, nil
	}
	parent, err := q.GetFile(ctx, parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("reading parent %s: %w", parentID, err)
	}
	if containsID(parent.Children, file.ID) {
		return true, nil
	}
	if err := q.SetFileChildren(ctx, parentID, append(parent.Children, file.ID)); err != nil {
		return false, fmt.Errorf("linking to parent %s: %w", parentID, err)
	}
	return true, nil
}

func (s *SQLiteDatabase) FindFile(ctx context.Context, id string) (*mirror.File, error) {
	row, err := s.queries.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding file %s: %w", id, err)
	}
	file, err := hydrateOne(ctx, s.queries, row)
	if err != nil {
		return nil, fmt.Errorf("finding file %s: %w", id, err)
	}
	return file, nil
}

func (s *SQLiteDatabase) FindFiles(ctx context.Context, ids []string) ([]*mirror.File, error) {
	rows, err := s.queries.GetFiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}
	files, err := hydrate(ctx, s.queries, rows)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}
	return orderByIDs(files, ids), nil
}

// UpdateFile sets the FileID of any listed permission that has none.
func (s *SQLiteDatabase) UpdateFile(ctx context.Context, file *mirror.File) error {
	for i := range file.Permissions {
		p := &file.Permissions[i]
		if p.FileID == "" {
			p.FileID = file.ID
		}
		if p.FileID != file.ID {
			return fmt.Errorf("updating file %s: permission %s belongs to file %q", file.ID, p.ID, p.FileID)
		}
	}

	err := s.inTx(ctx, func(q *Queries) error {
		n, err := q.UpdateFile(ctx, fromFile(file))
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		if err := ensureOwners(ctx, q, file.Owners); err != nil {
			return err
		}
		for _, p := range file.Permissions {
			if err := syncGrantee(ctx, q, p); err != nil {
				return err
			}
			if err := q.UpsertPermission(ctx, fromPermission(p)); err != nil {
				return fmt.Errorf("storing permission %s: %w", p.ID, err)
			}
		}
		return q.PrunePermissions(ctx, file.ID, file.PermissionIDs())
	})
	if err != nil {
		return fmt.Errorf("updating file %s: %w", file.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteFile(ctx context.Context, id string) (*mirror.File, error) {
	var snapshot *mirror.File
	deleted := 0
	err := s.inTx(ctx, func(q *Queries) error {
		row, err := q.GetFile(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if snapshot, err = hydrateOne(ctx, q, row); err != nil {
			return err
		}

		for _, pid := range row.Parents {
			parent, err := q.GetFile(ctx, pid)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading parent %s: %w", pid, err)
			}
			if containsID(parent.Children, id) {
				if err := q.SetFileChildren(ctx, pid, withoutID(parent.Children, id)); err != nil {
					return fmt.Errorf("unlinking from parent %s: %w", pid, err)
				}
			}
		}

		seen := make(map[string]bool)
		stack := []string{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[cur] {
				continue
			}
			seen[cur] = true

			r, err := q.GetFile(ctx, cur)
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Debug("descendant already gone", "file", cur, "root", id)
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s: %w", cur, err)
			}
			stack = append(stack, r.Children...)
			if err := q.DeletePermissionsForFiles(ctx, []string{cur}); err != nil {
				return fmt.Errorf("deleting permissions of %s: %w", cur, err)
			}
			if err := q.DeleteFile(ctx, cur); err != nil {
				return fmt.Errorf("deleting %s: %w", cur, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting file %s: %w", id, err)
	}
	if snapshot == nil {
		s.logger.Warn("file to delete not found", "file", id)
		return nil, nil
	}
	s.logger.Debug("deleted file tree", "file", id, "count", deleted)
	return snapshot, nil
}

func (s *SQLiteDatabase) AddFilePermission(ctx context.Context, file *mirror.File, perm mirror.Permission) error {
	if perm.FileID != file.ID {
		return fmt.Errorf("adding permission %s: permission belongs to file %q, not %q", perm.ID, perm.FileID, file.ID)
	}
	ids := file.PermissionIDs()
	if !containsID(ids, perm.ID) {
		ids = append(ids, perm.ID)
	}

	err := s.inTx(ctx, func(q *Queries) error {
		if err := syncGrantee(ctx, q, perm); err != nil {
			return err
		}
		if err := q.UpsertPermission(ctx, fromPermission(perm)); err != nil {
			return err
		}
		n, err := q.SetFilePermissionIDs(ctx, file.ID, ids)
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("adding permission %s to %s: %w", perm.ID, file.ID, err)
	}

	for i := range file.Permissions {
		if file.Permissions[i].ID == perm.ID {
			file.Permissions[i] = perm
			return nil
		}
	}
	file.Permissions = append(file.Permissions, perm)
	return nil
}

func (s *SQLiteDatabase) RemoveFilePermission(ctx context.Context, file *mirror.File, id string) error {
	ids := withoutID(file.PermissionIDs(), id)
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.DeletePermission(ctx, file.ID, id); err != nil {
			return err
		}
		n, err := q.SetFilePermissionIDs(ctx, file.ID, ids)
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("removing permission %s from %s: %w", id, file.ID, err)
	}

	kept := make([]mirror.Permission, 0, len(file.Permissions))
	for _, p := range file.Permissions {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	file.Permissions = kept
	return nil
}

func (s *SQLiteDatabase) FindFileAndSubtree(ctx context.Context, rootID string) ([]*mirror.File, error) {
	var files []*mirror.File
	err := s.inTx(ctx, func(q *Queries) error {
		var err error
		files, err = subtree(ctx, q, rootID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("finding subtree of %s: %w", rootID, err)
	}
	return files, nil
}

// subtree walks children depth-first from rootID and returns every stored
// file once, root first. A missing root yields no files.
func subtree(ctx context.Context, q *Queries, rootID string) ([]*mirror.File, error) {
	var rows []fileRow
	seen := make(map[string]bool)
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true

		row, err := q.GetFile(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", id, err)
		}
		rows = append(rows, row)
		for i := len(row.Children) - 1; i >= 0; i-- {
			stack = append(stack, row.Children[i])
		}
	}
	return hydrate(ctx, q, rows)
}

// StripAllPermissions reads the subtree and clears it in one transaction,
// and writes nothing when no member has permissions.
func (s *SQLiteDatabase) StripAllPermissions(ctx context.Context, rootID string) ([]*mirror.File, error) {
	var files []*mirror.File
	err := s.inTx(ctx, func(q *Queries) error {
		var err error
		if files, err = subtree(ctx, q, rootID); err != nil {
			return err
		}
		ids := make([]string, 0, len(files))
		hasPermissions := false
		for _, f := range files {
			ids = append(ids, f.ID)
			if len(f.Permissions) > 0 {
				hasPermissions = true
			}
		}
		if !hasPermissions {
			return nil
		}
		if err := q.ClearFilePermissionIDs(ctx, ids); err != nil {
			return err
		}
		if err := q.DeletePermissionsForFiles(ctx, ids); err != nil {
			return err
		}
		for _, f := range files {
			f.Permissions = []mirror.Permission{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripping permissions under %s: %w", rootID, err)
	}
	return files, nil
}

func (s *SQLiteDatabase) FindRootsAndChildren(ctx context.Context) ([]*mirror.File, error) {
	var files []*mirror.File
	err := s.inTx(ctx, func(q *Queries) error {
		roots, err := q.GetRootFiles(ctx)
		if err != nil {
			return err
		}
		isRoot := make(map[string]bool, len(roots))
		for _, r := range roots {
			isRoot[r.ID] = true
		}
		var childIDs []string
		seen := make(map[string]bool)
		for _, r := range roots {
			for _, c := range r.Children {
				if isRoot[c] || seen[c] {
					continue
				}
				seen[c] = true
				childIDs = append(childIDs, c)
			}
		}
		children, err := q.GetFiles(ctx, childIDs)
		if err != nil {
			return err
		}

		hydrated, err := hydrate(ctx, q, append(roots, children...))
		if err != nil {
			return err
		}
		files = append(hydrated[:len(roots):len(roots)], orderByIDs(hydrated[len(roots):], childIDs)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finding roots and children: %w", err)
	}
	return files, nil
}

func (s *SQLiteDatabase) PopulateFiles(ctx context.Context, files []*mirror.File) error {
	if err := s.inTx(ctx, func(q *Queries) error { return populate(ctx, q, files) }); err != nil {
		return fmt.Errorf("populating files: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ReplaceAll(ctx context.Context, files []*mirror.File) error {
	err := s.inTx(ctx, func(q *Queries) error {
		if err := q.DeleteAllPermissions(ctx); err != nil {
			return fmt.Errorf("clearing permissions: %w", err)
		}
		if err := q.DeleteAllFiles(ctx); err != nil {
			return fmt.Errorf("clearing files: %w", err)
		}
		if err := q.DeleteAllUsers(ctx); err != nil {
			return fmt.Errorf("clearing users: %w", err)
		}
		return populate(ctx, q, files)
	})
	if err != nil {
		return fmt.Errorf("replacing mirror: %w", err)
	}
	s.logger.Debug("replaced mirror", "files", len(files))
	return nil
}

// populate inserts files, then every distinct user and permission once.
// Existing rows are left untouched.
func populate(ctx context.Context, q *Queries, files []*mirror.File) error {
	for _, f := range files {
		if _, err := q.InsertFileIfAbsent(ctx, fromFile(f)); err != nil {
			return fmt.Errorf("inserting file %s: %w", f.ID, err)
		}
	}

	users := make(map[string]bool)
	addUser := func(u mirror.User) error {
		k := strings.ToLower(u.EmailAddress)
		if k == "" || users[k] {
			return nil
		}
		users[k] = true
		if _, err := q.InsertUserIfAbsent(ctx, fromUser(u)); err != nil {
			return fmt.Errorf("inserting user %s: %w", u.EmailAddress, err)
		}
		return nil
	}
	for _, f := range files {
		for _, o := range f.Owners {
			if err := addUser(o); err != nil {
				return err
			}
		}
		for _, p := range f.Permissions {
			if err := addUser(p.User); err != nil {
				return err
			}
		}
	}

	perms := make(map[[2]string]bool)
	for _, f := range files {
		for _, p := range f.Permissions {
			p.FileID = f.ID
			key := [2]string{f.ID, p.ID}
			if perms[key] {
				continue
			}
			perms[key] = true
			if err := q.InsertPermissionIfAbsent(ctx, fromPermission(p)); err != nil {
				return fmt.Errorf("inserting permission %s on %s: %w", p.ID, f.ID, err)
			}
		}
	}
	return nil
}
