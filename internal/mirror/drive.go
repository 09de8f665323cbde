package mirror

import (
	"context"
	"errors"
)

// ErrRemoteNotFound is wrapped by Drive implementations when the remote
// service reports that the file or permission does not exist.
var ErrRemoteNotFound = errors.New("drive: not found")

// Drive is the remote file service the mirror is built from.
type Drive interface {
	// ListFiles returns one page of the flat file listing. An empty
	// NextPageToken marks the last page.
	ListFiles(ctx context.Context, pageToken string, pageSize int) (*FilePage, error)

	// CreatePermission grants access on a file and returns the created
	// permission as the remote service reports it.
	CreatePermission(ctx context.Context, fileID string, req PermissionRequest) (*Permission, error)

	// DeletePermission revokes a permission. A missing file or permission
	// yields an error wrapping ErrRemoteNotFound.
	DeletePermission(ctx context.Context, fileID, permissionID string) error
}

// FilePage is one page of a remote listing.
type FilePage struct {
	Files         []*File
	NextPageToken string
}

// PermissionRequest describes a grant. EmailAddress is used for user and
// group grantees, Domain for domain grantees; anyone takes neither.
type PermissionRequest struct {
	Role         Role
	Type         GranteeType
	EmailAddress string
	Domain       string
}
