package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"drivemirror/internal/mirror"
)

// User operations

func (s *SQLiteDatabase) CreateUser(ctx context.Context, user mirror.User) error {
	if user.EmailAddress == "" {
		return fmt.Errorf("creating user: email address required")
	}
	if _, err := s.queries.InsertUserIfAbsent(ctx, fromUser(user)); err != nil {
		return fmt.Errorf("creating user %s: %w", user.EmailAddress, err)
	}
	return nil
}

func (s *SQLiteDatabase) FindUser(ctx context.Context, email string) (*mirror.User, error) {
	row, err := s.queries.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding user %s: %w", email, err)
	}
	u := toUser(row)
	return &u, nil
}

func (s *SQLiteDatabase) UpdateUser(ctx context.Context, user mirror.User) error {
	n, err := s.queries.UpdateUser(ctx, fromUser(user))
	if err != nil {
		return fmt.Errorf("updating user %s: %w", user.EmailAddress, err)
	}
	if n == 0 {
		return fmt.Errorf("updating user %s: %w", user.EmailAddress, sql.ErrNoRows)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteUser(ctx context.Context, email string) (*mirror.User, error) {
	var deleted *mirror.User
	err := s.inTx(ctx, func(q *Queries) error {
		row, err := q.GetUser(ctx, email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if err := q.DeleteUser(ctx, email); err != nil {
			return err
		}
		u := toUser(row)
		deleted = &u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting user %s: %w", email, err)
	}
	return deleted, nil
}

func (s *SQLiteDatabase) ListUsers(ctx context.Context) ([]mirror.User, error) {
	rows, err := s.queries.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]mirror.User, len(rows))
	for i, r := range rows {
		users[i] = toUser(r)
	}
	return users, nil
}

// syncGrantee stores the permission's grantee, refreshing a known user's
// non-empty fields. Grantees without an email (domain, anyone) are skipped.
func syncGrantee(ctx context.Context, q *Queries, p mirror.Permission) error {
	if p.User.EmailAddress == "" {
		return nil
	}
	if err := q.SyncUser(ctx, fromUser(p.User)); err != nil {
		return fmt.Errorf("syncing grantee %s: %w", p.User.EmailAddress, err)
	}
	return nil
}

// ensureOwners inserts each owner that is not stored yet.
func ensureOwners(ctx context.Context, q *Queries, owners []mirror.User) error {
	for _, o := range owners {
		if o.EmailAddress == "" {
			continue
		}
		if _, err := q.InsertUserIfAbsent(ctx, fromUser(o)); err != nil {
			return fmt.Errorf("storing owner %s: %w", o.EmailAddress, err)
		}
	}
	return nil
}
