package database

import (
	"context"
	"fmt"
	"strings"

	"drivemirror/internal/mirror"
)

func fromFile(f *mirror.File) fileRow {
	owners := make(stringList, 0, len(f.Owners))
	for _, o := range f.Owners {
		owners = append(owners, o.EmailAddress)
	}
	return fileRow{
		ID:            f.ID,
		Kind:          f.Kind,
		Name:          f.Name,
		MimeType:      f.MimeType,
		Parents:       stringList(f.Parents),
		Children:      stringList(f.Children),
		Owners:        owners,
		PermissionIDs: stringList(f.PermissionIDs()),
	}
}

func fromPermission(p mirror.Permission) permissionRow {
	return permissionRow{
		FileID:         p.FileID,
		ID:             p.ID,
		Type:           string(p.Type),
		Role:           string(p.Role),
		Domain:         p.Domain,
		ExpirationDate: p.ExpirationDate,
		Deleted:        p.Deleted,
		PendingOwner:   p.PendingOwner,
		GranteeEmail:   p.User.EmailAddress,
	}
}

func fromUser(u mirror.User) userRow {
	return userRow{EmailAddress: u.EmailAddress, DisplayName: u.DisplayName, PhotoLink: u.PhotoLink}
}

func toUser(u userRow) mirror.User {
	return mirror.User{EmailAddress: u.EmailAddress, DisplayName: u.DisplayName, PhotoLink: u.PhotoLink}
}

// userIndex resolves emails to stored users. Unknown emails resolve to a
// user carrying only the address.
type userIndex map[string]userRow

func (idx userIndex) user(email string) mirror.User {
	if email == "" {
		return mirror.User{}
	}
	if u, ok := idx[strings.ToLower(email)]; ok {
		return toUser(u)
	}
	return mirror.User{EmailAddress: email}
}

func loadUsers(ctx context.Context, q *Queries, emails []string) (userIndex, error) {
	seen := make(map[string]bool, len(emails))
	var unique []string
	for _, e := range emails {
		k := strings.ToLower(e)
		if e == "" || seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, e)
	}
	rows, err := q.GetUsers(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	idx := make(userIndex, len(rows))
	for _, u := range rows {
		idx[strings.ToLower(u.EmailAddress)] = u
	}
	return idx, nil
}

func toPermission(p permissionRow, users userIndex) mirror.Permission {
	return mirror.Permission{
		ID:             p.ID,
		FileID:         p.FileID,
		Type:           mirror.GranteeType(p.Type),
		Role:           mirror.Role(p.Role),
		Domain:         p.Domain,
		ExpirationDate: p.ExpirationDate,
		Deleted:        p.Deleted,
		PendingOwner:   p.PendingOwner,
		User:           users.user(p.GranteeEmail),
	}
}

func hydratePermissions(ctx context.Context, q *Queries, rows []permissionRow) ([]mirror.Permission, error) {
	emails := make([]string, len(rows))
	for i, p := range rows {
		emails[i] = p.GranteeEmail
	}
	users, err := loadUsers(ctx, q, emails)
	if err != nil {
		return nil, err
	}
	out := make([]mirror.Permission, len(rows))
	for i, p := range rows {
		out[i] = toPermission(p, users)
	}
	return out, nil
}

// hydrate resolves owners and the listed permissions of each row, keeping
// row order. Permission rows a file does not list are not returned.
func hydrate(ctx context.Context, q *Queries, rows []fileRow) ([]*mirror.File, error) {
	files := make([]*mirror.File, 0, len(rows))
	if len(rows) == 0 {
		return files, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	permRows, err := q.GetPermissionsForFiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading permissions: %w", err)
	}
	byFile := make(map[string]map[string]permissionRow, len(rows))
	var emails []string
	for _, p := range permRows {
		if byFile[p.FileID] == nil {
			byFile[p.FileID] = make(map[string]permissionRow)
		}
		byFile[p.FileID][p.ID] = p
		emails = append(emails, p.GranteeEmail)
	}
	for _, r := range rows {
		emails = append(emails, r.Owners...)
	}
	users, err := loadUsers(ctx, q, emails)
	if err != nil {
		return nil, err
	}

	for _, r := range rows {
		f := &mirror.File{
			ID:          r.ID,
			Kind:        r.Kind,
			Name:        r.Name,
			MimeType:    r.MimeType,
			Parents:     []string(r.Parents),
			Children:    []string(r.Children),
			Owners:      make([]mirror.User, 0, len(r.Owners)),
			Permissions: make([]mirror.Permission, 0, len(r.PermissionIDs)),
		}
		for _, email := range r.Owners {
			f.Owners = append(f.Owners, users.user(email))
		}
		for _, pid := range r.PermissionIDs {
			if p, ok := byFile[r.ID][pid]; ok {
				f.Permissions = append(f.Permissions, toPermission(p, users))
			}
		}
		files = append(files, f)
	}
	return files, nil
}

func hydrateOne(ctx context.Context, q *Queries, row fileRow) (*mirror.File, error) {
	files, err := hydrate(ctx, q, []fileRow{row})
	if err != nil {
		return nil, err
	}
	return files[0], nil
}

// orderByIDs returns the files in the order of ids, skipping unknown ids.
func orderByIDs(files []*mirror.File, ids []string) []*mirror.File {
	byID := make(map[string]*mirror.File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	out := make([]*mirror.File, 0, len(files))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, f)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func withoutID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
