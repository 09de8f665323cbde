package mirror

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by errors.Is against an *Error.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrRemote       = errors.New("remote request failed")
	ErrStore        = errors.New("local store failed")
	ErrReconcile    = errors.New("remote and local state diverged")
	ErrNotReady     = errors.New("mirror not ready")
)

// Kind classifies a failure for callers that map it to a response.
type Kind string

const (
	KindInvalid     Kind = "invalid"
	KindNotFound    Kind = "not_found"
	KindRemote      Kind = "remote"
	KindStore       Kind = "store"
	KindReconcile   Kind = "reconcile"
	KindUnavailable Kind = "unavailable"
)

// ClientError reports whether the failure was caused by the request itself
// (a 4xx-style response) rather than by the store or the remote service.
func (k Kind) ClientError() bool {
	return k == KindInvalid || k == KindNotFound
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalid:
		return ErrInvalidInput
	case KindNotFound:
		return ErrNotFound
	case KindRemote:
		return ErrRemote
	case KindStore:
		return ErrStore
	case KindReconcile:
		return ErrReconcile
	case KindUnavailable:
		return ErrNotReady
	}
	return nil
}

// Request echoes the parameters of a failed call so the caller can retry.
type Request struct {
	FileIDs      []string    `json:"fileIds,omitempty"`
	FileID       string      `json:"fileId,omitempty"`
	PermissionID string      `json:"permissionId,omitempty"`
	Role         Role        `json:"role,omitempty"`
	GranteeType  GranteeType `json:"granteeType,omitempty"`
	Emails       []string    `json:"emails,omitempty"`
	EmailAddress string      `json:"emailAddress,omitempty"`
}

// Error is the failure payload of every exported Manager operation.
type Error struct {
	Op           string    `json:"op"`
	Kind         Kind      `json:"kind"`
	Reason       string    `json:"reason"`
	Request      Request   `json:"request"`
	MissingFiles []string  `json:"missingFiles,omitempty"`
	Outcomes     []Outcome `json:"outcomes,omitempty"`
	Err          error     `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Reason)
	if len(e.MissingFiles) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.MissingFiles, ", "))
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Succeeded returns the outcomes whose remote mutation is known to have
// been applied before the failure.
func (e *Error) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range e.Outcomes {
		if o.Status == OutcomeApplied {
			out = append(out, o)
		}
	}
	return out
}

const (
	reasonInvalidEmail    = "Invalid email format."
	reasonInvalidRole     = "Invalid role was provided."
	reasonInvalidType     = "Invalid granteeType was provided."
	reasonInvalidDomain   = "Invalid domain was provided."
	reasonInvalidParams   = "Invalid parameters provided."
	reasonNoFileIDs       = "No file ids were provided."
	reasonFileNotInDB     = "File not found in database."
	reasonFileNotFound    = "File not found."
	reasonFilesNotFound   = "Files not found."
	reasonPermNotFound    = "Permission not found."
	reasonDBUpdateFailed  = "Failed to update db."
	reasonGrantReconcile  = "There was a problem updating our db. Its possible that permission was still created in Drive."
	reasonRevokeReconcile = "There was a problem updating our db. The permission was already removed in Drive."
	reasonNotReady        = "Mirror is not ready."
)

func remoteReason(err error) string {
	return fmt.Sprintf("Drive API request failed or was rejected:\n%v", err)
}

// revokeRemoteReason is the reason for a failed remote revoke.
func revokeRemoteReason(err error) string {
	return fmt.Sprintf("Something went wrong with Google Drive API call:\n%v", err)
}

func queryReason(err error) string {
	return fmt.Sprintf("Error when querying db...\n%v", err)
}
