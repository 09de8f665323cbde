// Package mirror keeps a local copy of a remote file service's file,
// permission and owner graph, and propagates permission changes across file
// subtrees while keeping the remote service and the local copy consistent.
package mirror

import (
	"context"
	"errors"
	"strings"
)

// DefaultPageSize is the page size used when listing remote files.
const DefaultPageSize = 1000

// Manager is the entry point used by callers of the mirror.
// Every exported operation fails with *Error.
type Manager struct {
	db       Database
	drive    Drive
	logger   Logger
	ready    *Readiness
	pageSize int
}

// NewManager creates a Manager over the given store and remote service.
func NewManager(db Database, drive Drive, logger Logger, clock Clock) *Manager {
	return &Manager{
		db:       db,
		drive:    drive,
		logger:   logger,
		ready:    NewReadiness(clock),
		pageSize: DefaultPageSize,
	}
}

// SetPageSize changes the remote listing page size. Non-positive values
// restore the default.
func (m *Manager) SetPageSize(n int) {
	if n <= 0 {
		n = DefaultPageSize
	}
	m.pageSize = n
}

// Readiness exposes the ingestion state machine.
func (m *Manager) Readiness() *Readiness {
	return m.ready
}

func (m *Manager) requireReady(op string, req Request) error {
	if m.ready.Ready() {
		return nil
	}
	return &Error{Op: op, Kind: KindUnavailable, Reason: reasonNotReady, Request: req}
}

// GetFiles returns the files with the given ids. Without ids it returns
// the root files followed by their immediate children.
func (m *Manager) GetFiles(ctx context.Context, fileIDs []string) ([]*File, error) {
	const op = "GetFiles"
	req := Request{FileIDs: fileIDs}
	if err := m.requireReady(op, req); err != nil {
		return nil, err
	}

	if len(fileIDs) == 0 {
		files, err := m.db.FindRootsAndChildren(ctx)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
		}
		return files, nil
	}

	ids := uniqueStrings(fileIDs)
	files, err := m.db.FindFiles(ctx, ids)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
	}
	if missing := missingIDs(ids, files); len(missing) > 0 {
		return nil, &Error{Op: op, Kind: KindNotFound, Reason: reasonFilesNotFound, Request: req, MissingFiles: missing}
	}
	return files, nil
}

// GetFileTree returns the landing view (roots and their immediate
// children) nested into trees.
func (m *Manager) GetFileTree(ctx context.Context) ([]*TreeNode, error) {
	files, err := m.GetFiles(ctx, nil)
	if err != nil {
		var merr *Error
		if errors.As(err, &merr) {
			merr.Op = "GetFileTree"
		}
		return nil, err
	}
	return RestructureFiles(files), nil
}

// PermissionQuery selects permissions either by file or by grantee email.
type PermissionQuery struct {
	FileID       string
	EmailAddress string
}

// GetPermissions returns the permissions of a file, or every permission
// granted to an email address.
func (m *Manager) GetPermissions(ctx context.Context, q PermissionQuery) ([]Permission, error) {
	const op = "GetPermissions"
	req := Request{FileID: q.FileID, EmailAddress: q.EmailAddress}
	if err := m.requireReady(op, req); err != nil {
		return nil, err
	}

	switch {
	case q.FileID != "":
		file, err := m.db.FindFile(ctx, q.FileID)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
		}
		if file == nil {
			return nil, &Error{Op: op, Kind: KindNotFound, Reason: reasonFileNotFound, Request: req}
		}
		return file.Permissions, nil
	case q.EmailAddress != "":
		perms, err := m.db.FindPermissionsByEmail(ctx, q.EmailAddress)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
		}
		return perms, nil
	default:
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonInvalidParams, Request: req}
	}
}

// AddPermission grants role to a single grantee on exactly one file.
// grantee is an email address for user and group grantees, a domain name
// for domain grantees, and ignored for anyone.
func (m *Manager) AddPermission(ctx context.Context, fileID string, role Role, granteeType GranteeType, grantee string) (*Permission, error) {
	const op = "AddPermission"
	req := Request{FileID: fileID, Role: role, GranteeType: granteeType, EmailAddress: grantee}

	if reason := validateGrant(role, granteeType, grantee); reason != "" {
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reason, Request: req}
	}
	if err := m.requireReady(op, req); err != nil {
		return nil, err
	}

	file, err := m.db.FindFile(ctx, fileID)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
	}
	if file == nil {
		return nil, &Error{Op: op, Kind: KindNotFound, Reason: reasonFileNotInDB, Request: req}
	}

	perm, err := m.drive.CreatePermission(ctx, fileID, permissionRequest(role, granteeType, grantee))
	if err != nil {
		m.logger.Warn("remote grant failed", "file", fileID, "grantee", grantee, "error", err)
		return nil, &Error{Op: op, Kind: KindRemote, Reason: remoteReason(err), Request: req, Err: err}
	}
	normalizeGranted(perm, fileID, granteeType, grantee)
	applied := Outcome{FileID: fileID, PermissionID: perm.ID, Email: perm.User.EmailAddress, Action: ActionGrant, Status: OutcomeApplied}

	if err := m.db.AddFilePermission(ctx, file, *perm); err != nil {
		m.logger.Error("mirror diverged after remote grant", "file", fileID, "permission", perm.ID, "error", err)
		return nil, &Error{Op: op, Kind: KindReconcile, Reason: reasonGrantReconcile, Request: req, Outcomes: []Outcome{applied}, Err: err}
	}

	m.logger.Info("permission added", "file", fileID, "permission", perm.ID, "role", role, "type", granteeType)
	return perm, nil
}

// DeletePermission revokes one permission of one file. A permission that
// the remote service no longer knows is treated as already revoked.
func (m *Manager) DeletePermission(ctx context.Context, fileID, permissionID string) error {
	const op = "DeletePermission"
	req := Request{FileID: fileID, PermissionID: permissionID}
	if err := m.requireReady(op, req); err != nil {
		return err
	}

	file, err := m.db.FindFile(ctx, fileID)
	if err != nil {
		return &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
	}
	if file == nil {
		return &Error{Op: op, Kind: KindNotFound, Reason: reasonFileNotFound, Request: req}
	}
	if !file.HasPermission(permissionID) {
		return &Error{Op: op, Kind: KindNotFound, Reason: reasonPermNotFound, Request: req}
	}

	status := OutcomeApplied
	if err := m.drive.DeletePermission(ctx, fileID, permissionID); err != nil {
		if !errors.Is(err, ErrRemoteNotFound) {
			m.logger.Warn("remote revoke failed", "file", fileID, "permission", permissionID, "error", err)
			return &Error{Op: op, Kind: KindRemote, Reason: revokeRemoteReason(err), Request: req, Err: err}
		}
		status = OutcomeAlreadySatisfied
	}

	if err := m.db.RemoveFilePermission(ctx, file, permissionID); err != nil {
		m.logger.Error("mirror diverged after remote revoke", "file", fileID, "permission", permissionID, "error", err)
		outcome := Outcome{FileID: fileID, PermissionID: permissionID, Action: ActionRevoke, Status: status}
		return &Error{Op: op, Kind: KindReconcile, Reason: reasonDBUpdateFailed, Request: req, Outcomes: []Outcome{outcome}, Err: err}
	}

	m.logger.Info("permission deleted", "file", fileID, "permission", permissionID, "status", status)
	return nil
}

// validateGrant returns the reason a grant request is malformed, or "".
// The email is checked before role and type, in the same order as
// AddPermissions.
func validateGrant(role Role, granteeType GranteeType, grantee string) string {
	if (granteeType == GranteeUser || granteeType == GranteeGroup) && !validEmail(grantee) {
		return reasonInvalidEmail
	}
	if !role.Valid() {
		return reasonInvalidRole
	}
	if !granteeType.Valid() {
		return reasonInvalidType
	}
	if granteeType == GranteeDomain && (strings.TrimSpace(grantee) == "" || strings.Contains(grantee, "@")) {
		return reasonInvalidDomain
	}
	return ""
}

func validEmail(s string) bool {
	return strings.Contains(s, "@")
}

func permissionRequest(role Role, granteeType GranteeType, grantee string) PermissionRequest {
	req := PermissionRequest{Role: role, Type: granteeType}
	switch granteeType {
	case GranteeUser, GranteeGroup:
		req.EmailAddress = grantee
	case GranteeDomain:
		req.Domain = grantee
	}
	return req
}

// normalizeGranted fills the fields the remote response may leave empty.
func normalizeGranted(perm *Permission, fileID string, granteeType GranteeType, grantee string) {
	perm.FileID = fileID
	if perm.Type == "" {
		perm.Type = granteeType
	}
	switch granteeType {
	case GranteeUser, GranteeGroup:
		if perm.User.EmailAddress == "" {
			perm.User.EmailAddress = grantee
		}
	case GranteeDomain:
		if perm.Domain == "" {
			perm.Domain = grantee
		}
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func missingIDs(ids []string, files []*File) []string {
	found := make(map[string]bool, len(files))
	for _, f := range files {
		found[f.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
