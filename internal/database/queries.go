package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxParams bounds the ids bound into one IN clause.
const maxParams = 500

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the parameterized statements of the mirror schema.
type Queries struct {
	db DBTX
}

func newQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// stringList is a []string stored as a JSON array. nil is stored as "[]".
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = stringList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into string list", src)
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decoding string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// Rows

type userRow struct {
	EmailAddress string
	DisplayName  string
	PhotoLink    string
}

type fileRow struct {
	ID            string
	Kind          string
	Name          string
	MimeType      string
	Parents       stringList
	Children      stringList
	Owners        stringList
	PermissionIDs stringList
}

type permissionRow struct {
	FileID         string
	ID             string
	Type           string
	Role           string
	Domain         string
	ExpirationDate string
	Deleted        bool
	PendingOwner   bool
	GranteeEmail   string
}

type operationRow struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// chunks splits ids into slices of at most maxParams.
func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > maxParams {
		out = append(out, ids[:maxParams])
		ids = ids[maxParams:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// Users

const userColumns = `email_address, display_name, photo_link`

func scanUser(row interface{ Scan(...any) error }) (userRow, error) {
	var u userRow
	err := row.Scan(&u.EmailAddress, &u.DisplayName, &u.PhotoLink)
	return u, err
}

func (q *Queries) GetUser(ctx context.Context, email string) (userRow, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email_address = ?`, email))
}

func (q *Queries) GetUsers(ctx context.Context, emails []string) ([]userRow, error) {
	var out []userRow
	for _, chunk := range chunks(emails) {
		rows, err := q.db.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE email_address IN (`+placeholders(len(chunk))+`)`, anyArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		users, err := collectUsers(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, users...)
	}
	return out, nil
}

func (q *Queries) ListUsers(ctx context.Context) ([]userRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email_address`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]userRow, error) {
	defer rows.Close()
	var out []userRow
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// InsertUserIfAbsent reports whether a row was inserted.
func (q *Queries) InsertUserIfAbsent(ctx context.Context, u userRow) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?) ON CONFLICT (email_address) DO NOTHING`,
		u.EmailAddress, u.DisplayName, u.PhotoLink)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SyncUser inserts the user or refreshes its non-empty fields.
func (q *Queries) SyncUser(ctx context.Context, u userRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?)
		ON CONFLICT (email_address) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name = '' THEN users.display_name ELSE excluded.display_name END,
			photo_link = CASE WHEN excluded.photo_link = '' THEN users.photo_link ELSE excluded.photo_link END`,
		u.EmailAddress, u.DisplayName, u.PhotoLink)
	return err
}

func (q *Queries) UpdateUser(ctx context.Context, u userRow) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, photo_link = ? WHERE email_address = ?`,
		u.DisplayName, u.PhotoLink, u.EmailAddress)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteUser(ctx context.Context, email string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM users WHERE email_address = ?`, email)
	return err
}

func (q *Queries) DeleteAllUsers(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM users`)
	return err
}

// Files

const fileColumns = `id, kind, name, mime_type, parents, children, owners, permission_ids`

func scanFile(row interface{ Scan(...any) error }) (fileRow, error) {
	var f fileRow
	err := row.Scan(&f.ID, &f.Kind, &f.Name, &f.MimeType, &f.Parents, &f.Children, &f.Owners, &f.PermissionIDs)
	return f, err
}

func collectFiles(rows *sql.Rows) ([]fileRow, error) {
	defer rows.Close()
	var out []fileRow
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (q *Queries) GetFile(ctx context.Context, id string) (fileRow, error) {
	return scanFile(q.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

// GetFiles returns the rows among ids in storage order.
func (q *Queries) GetFiles(ctx context.Context, ids []string) ([]fileRow, error) {
	var out []fileRow
	for _, chunk := range chunks(ids) {
		rows, err := q.db.QueryContext(ctx,
			`SELECT `+fileColumns+` FROM files WHERE id IN (`+placeholders(len(chunk))+`) ORDER BY rowid`, anyArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		files, err := collectFiles(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func (q *Queries) GetRootFiles(ctx context.Context) ([]fileRow, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE parents = '[]' ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

// InsertFileIfAbsent reports whether a row was inserted.
func (q *Queries) InsertFileIfAbsent(ctx context.Context, f fileRow) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		f.ID, f.Kind, f.Name, f.MimeType, f.Parents, f.Children, f.Owners, f.PermissionIDs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (q *Queries) UpdateFile(ctx context.Context, f fileRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE files SET kind = ?, name = ?, mime_type = ?, parents = ?, children = ?, owners = ?, permission_ids = ?
		WHERE id = ?`,
		f.Kind, f.Name, f.MimeType, f.Parents, f.Children, f.Owners, f.PermissionIDs, f.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) SetFileChildren(ctx context.Context, id string, children stringList) error {
	_, err := q.db.ExecContext(ctx, `UPDATE files SET children = ? WHERE id = ?`, children, id)
	return err
}

func (q *Queries) SetFilePermissionIDs(ctx context.Context, id string, ids stringList) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE files SET permission_ids = ? WHERE id = ?`, ids, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) ClearFilePermissionIDs(ctx context.Context, ids []string) error {
	for _, chunk := range chunks(ids) {
		_, err := q.db.ExecContext(ctx,
			`UPDATE files SET permission_ids = '[]' WHERE id IN (`+placeholders(len(chunk))+`)`, anyArgs(chunk)...)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) DeleteFile(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	return err
}

func (q *Queries) DeleteAllFiles(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM files`)
	return err
}

// Permissions

const permissionColumns = `file_id, id, type, role, domain, expiration_date, deleted, pending_owner, grantee_email`

func scanPermission(row interface{ Scan(...any) error }) (permissionRow, error) {
	var p permissionRow
	err := row.Scan(&p.FileID, &p.ID, &p.Type, &p.Role, &p.Domain, &p.ExpirationDate, &p.Deleted, &p.PendingOwner, &p.GranteeEmail)
	return p, err
}

func collectPermissions(rows *sql.Rows) ([]permissionRow, error) {
	defer rows.Close()
	var out []permissionRow
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *Queries) GetPermission(ctx context.Context, fileID, id string) (permissionRow, error) {
	return scanPermission(q.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE file_id = ? AND id = ?`, fileID, id))
}

func (q *Queries) GetPermissionsForFiles(ctx context.Context, fileIDs []string) ([]permissionRow, error) {
	var out []permissionRow
	for _, chunk := range chunks(fileIDs) {
		rows, err := q.db.QueryContext(ctx,
			`SELECT `+permissionColumns+` FROM permissions WHERE file_id IN (`+placeholders(len(chunk))+`)`, anyArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		perms, err := collectPermissions(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, perms...)
	}
	return out, nil
}

// GetListedPermissionsByEmail returns the permissions granted to email that
// their file still lists.
func (q *Queries) GetListedPermissionsByEmail(ctx context.Context, email string) ([]permissionRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT p.file_id, p.id, p.type, p.role, p.domain, p.expiration_date, p.deleted, p.pending_owner, p.grantee_email
		FROM permissions p
		JOIN files f ON f.id = p.file_id
		WHERE p.grantee_email = ?
		  AND EXISTS (SELECT 1 FROM json_each(f.permission_ids) WHERE json_each.value = p.id)
		ORDER BY f.rowid, p.id`, email)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

// UpsertPermission inserts the row or overwrites it on (file_id, id).
func (q *Queries) UpsertPermission(ctx context.Context, p permissionRow) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO permissions (`+permissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, id) DO UPDATE SET
			type = excluded.type,
			role = excluded.role,
			domain = excluded.domain,
			expiration_date = excluded.expiration_date,
			deleted = excluded.deleted,
			pending_owner = excluded.pending_owner,
			grantee_email = excluded.grantee_email`,
		p.FileID, p.ID, p.Type, p.Role, p.Domain, p.ExpirationDate, p.Deleted, p.PendingOwner, p.GranteeEmail)
	return err
}

func (q *Queries) InsertPermissionIfAbsent(ctx context.Context, p permissionRow) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO permissions (`+permissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (file_id, id) DO NOTHING`,
		p.FileID, p.ID, p.Type, p.Role, p.Domain, p.ExpirationDate, p.Deleted, p.PendingOwner, p.GranteeEmail)
	return err
}

func (q *Queries) UpdatePermission(ctx context.Context, p permissionRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE permissions SET type = ?, role = ?, domain = ?, expiration_date = ?, deleted = ?, pending_owner = ?, grantee_email = ?
		WHERE file_id = ? AND id = ?`,
		p.Type, p.Role, p.Domain, p.ExpirationDate, p.Deleted, p.PendingOwner, p.GranteeEmail, p.FileID, p.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeletePermission(ctx context.Context, fileID, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM permissions WHERE file_id = ? AND id = ?`, fileID, id)
	return err
}

// PrunePermissions deletes the rows of fileID whose id is not in keep.
func (q *Queries) PrunePermissions(ctx context.Context, fileID string, keep []string) error {
	if len(keep) == 0 {
		_, err := q.db.ExecContext(ctx, `DELETE FROM permissions WHERE file_id = ?`, fileID)
		return err
	}
	args := append([]any{fileID}, anyArgs(keep)...)
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM permissions WHERE file_id = ? AND id NOT IN (`+placeholders(len(keep))+`)`, args...)
	return err
}

func (q *Queries) DeletePermissionsForFiles(ctx context.Context, fileIDs []string) error {
	for _, chunk := range chunks(fileIDs) {
		_, err := q.db.ExecContext(ctx,
			`DELETE FROM permissions WHERE file_id IN (`+placeholders(len(chunk))+`)`, anyArgs(chunk)...)
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *Queries) DeleteAllPermissions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM permissions`)
	return err
}

// Operations

const operationColumns = `id, operation, parameters, status, started_at, finished_at`

func scanOperation(row interface{ Scan(...any) error }) (operationRow, error) {
	var o operationRow
	err := row.Scan(&o.ID, &o.Operation, &o.Parameters, &o.Status, &o.StartedAt, &o.FinishedAt)
	return o, err
}

func (q *Queries) InsertOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO operations (operation, parameters, started_at) VALUES (?, ?, ?)`,
		operation, parameters, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) GetOperation(ctx context.Context, id int64) (operationRow, error) {
	return scanOperation(q.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE id = ?`, id))
}

func (q *Queries) FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, finished_at = ? WHERE id = ?`, status, finishedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) ListOperations(ctx context.Context, limit int) ([]operationRow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+operationColumns+` FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []operationRow
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q *Queries) LastOperationWithStatus(ctx context.Context, operation, status string) (operationRow, error) {
	return scanOperation(q.db.QueryRowContext(ctx,
		`SELECT `+operationColumns+` FROM operations WHERE operation = ? AND status = ? AND finished_at IS NOT NULL
		 ORDER BY id DESC LIMIT 1`, operation, status))
}
