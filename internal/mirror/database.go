package mirror

import (
	"context"
	"time"
)

// Database provides the local mirror storage.
// Lookups return (nil, nil) when nothing matches. Every method that touches
// more than one row does so in a single transaction.
type Database interface {
	// User operations

	// CreateUser stores the user unless one with the same email exists.
	CreateUser(ctx context.Context, user User) error

	// FindUser returns the user with the given email address.
	FindUser(ctx context.Context, email string) (*User, error)

	// UpdateUser overwrites the stored display name and photo link.
	UpdateUser(ctx context.Context, user User) error

	// DeleteUser removes a user and returns the deleted record.
	// Users are referenced by files and permissions; deleting one that is
	// still referenced leaves those references unresolvable.
	DeleteUser(ctx context.Context, email string) (*User, error)

	// ListUsers returns every stored user ordered by email.
	ListUsers(ctx context.Context) ([]User, error)

	// Permission operations

	// InsertPermission writes a permission row (and its grantee) without
	// touching the owning file's permission list. Unsafe: the row stays
	// invisible until the file lists it. Use AddFilePermission instead.
	InsertPermission(ctx context.Context, perm Permission) error

	// RemovePermission deletes a permission row without touching the owning
	// file's permission list. Unsafe: use RemoveFilePermission instead.
	RemovePermission(ctx context.Context, fileID, id string) (*Permission, error)

	// FindPermission returns one permission of a file with its grantee hydrated.
	FindPermission(ctx context.Context, fileID, id string) (*Permission, error)

	// FindPermissions returns the permissions of a file with the given ids,
	// in the order of ids. Unknown ids are skipped.
	FindPermissions(ctx context.Context, fileID string, ids []string) ([]Permission, error)

	// FindPermissionsByEmail returns every visible permission granted to email.
	FindPermissionsByEmail(ctx context.Context, email string) ([]Permission, error)

	// UpdatePermission overwrites a permission row and re-syncs its grantee.
	UpdatePermission(ctx context.Context, perm Permission) error

	// File operations

	// CreateFile inserts the file, its owners and permissions, and appends it
	// to its canonical parent's children when that parent is stored.
	// An existing id is left untouched.
	CreateFile(ctx context.Context, file *File) error

	// CreateFileTree creates root and, recursively, every nested child node.
	CreateFileTree(ctx context.Context, root *TreeNode) error

	// FindFile returns the file with owners and permissions hydrated.
	FindFile(ctx context.Context, id string) (*File, error)

	// FindFiles returns the stored files among ids, in the order of ids.
	FindFiles(ctx context.Context, ids []string) ([]*File, error)

	// UpdateFile overwrites the file row and upserts every listed permission
	// and grantee. Permission rows of the file that are no longer listed are removed.
	UpdateFile(ctx context.Context, file *File) error

	// DeleteFile deletes the file and all of its descendants together with
	// their permissions. It returns the hydrated snapshot of the deleted root.
	DeleteFile(ctx context.Context, id string) (*File, error)

	// AddFilePermission stores perm and appends it to file's permission list.
	// perm.FileID must equal file.ID. file is updated in place.
	AddFilePermission(ctx context.Context, file *File, perm Permission) error

	// RemoveFilePermission drops permission id from file's list and deletes
	// the row. file is updated in place.
	RemoveFilePermission(ctx context.Context, file *File, id string) error

	// FindFileAndSubtree returns the root and every descendant reachable
	// through children links, each once. Empty if the root is missing.
	FindFileAndSubtree(ctx context.Context, rootID string) ([]*File, error)

	// StripAllPermissions clears the permission lists of the whole subtree.
	StripAllPermissions(ctx context.Context, rootID string) ([]*File, error)

	// FindRootsAndChildren returns every parentless file followed by the
	// immediate children of those files.
	FindRootsAndChildren(ctx context.Context) ([]*File, error)

	// PopulateFiles bulk inserts files, then each distinct permission and
	// user exactly once. Existing ids are left untouched.
	PopulateFiles(ctx context.Context, files []*File) error

	// ReplaceAll discards the whole mirror and populates it with files.
	ReplaceAll(ctx context.Context, files []*File) error

	// Operation journal

	// CreateOperation records the start of a mutating operation.
	CreateOperation(ctx context.Context, operation, parameters string) (*Operation, error)

	// FinishOperation marks an operation finished with the given status.
	FinishOperation(ctx context.Context, id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)

	// LastSuccessfulOperation returns the newest finished operation with the
	// given name and status "success".
	LastSuccessfulOperation(ctx context.Context, operation string) (*Operation, error)

	// Close closes the database connection.
	Close() error
}

// Operation is a journal entry for a mutating command.
type Operation struct {
	ID         int64      `json:"id" yaml:"id"`
	Operation  string     `json:"operation" yaml:"operation"`
	Parameters string     `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Status     string     `json:"status" yaml:"status"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}
