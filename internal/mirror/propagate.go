package mirror

import (
	"context"
	"errors"
	"strings"
)

// Action is the kind of remote mutation an Outcome describes.
type Action string

const (
	ActionGrant  Action = "grant"
	ActionRevoke Action = "revoke"
)

// OutcomeStatus is what happened to one (file, grantee) target.
type OutcomeStatus string

const (
	OutcomeApplied          OutcomeStatus = "applied"
	OutcomeAlreadySatisfied OutcomeStatus = "already_satisfied"
	OutcomeSkippedOwner     OutcomeStatus = "skipped_owner"
	OutcomeFailed           OutcomeStatus = "failed"
)

// Outcome records the result of one remote mutation attempt.
type Outcome struct {
	FileID       string        `json:"fileId" yaml:"fileId"`
	PermissionID string        `json:"permissionId,omitempty" yaml:"permissionId,omitempty"`
	Email        string        `json:"email,omitempty" yaml:"email,omitempty"`
	Action       Action        `json:"action" yaml:"action"`
	Status       OutcomeStatus `json:"status" yaml:"status"`
	Detail       string        `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// BulkResult is the result of a subtree-wide grant or revoke. Files holds
// every affected file, touched or not, with its permissions as stored.
type BulkResult struct {
	Files    []*File   `json:"files" yaml:"files"`
	Outcomes []Outcome `json:"outcomes" yaml:"outcomes"`
}

// Count returns the number of outcomes with the given status.
func (r *BulkResult) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func (r *BulkResult) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// AddPermissions grants role to every email on each root in fileIDs and on
// all of their descendants. The first remote failure aborts the run; the
// returned *Error lists the outcomes recorded until then.
func (m *Manager) AddPermissions(ctx context.Context, fileIDs []string, role Role, granteeType GranteeType, emails []string) (*BulkResult, error) {
	const op = "AddPermissions"
	req := Request{FileIDs: fileIDs, Role: role, GranteeType: granteeType, Emails: emails}

	if len(emails) == 0 {
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonInvalidEmail, Request: req}
	}
	for _, e := range emails {
		if !validEmail(e) {
			return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonInvalidEmail, Request: req}
		}
	}
	if !role.Valid() {
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonInvalidRole, Request: req}
	}
	if !granteeType.Valid() {
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonInvalidType, Request: req}
	}
	if err := m.requireReady(op, req); err != nil {
		return nil, err
	}

	affected, err := m.expandSubtrees(ctx, op, req, fileIDs)
	if err != nil {
		return nil, err
	}

	targets := uniqueEmails(emails)
	res := &BulkResult{Files: affected}
	for _, file := range affected {
		changed := false
		for _, email := range targets {
			perm, rerr := m.drive.CreatePermission(ctx, file.ID, PermissionRequest{Role: role, Type: granteeType, EmailAddress: email})
			if rerr != nil {
				res.record(Outcome{FileID: file.ID, Email: email, Action: ActionGrant, Status: OutcomeFailed, Detail: rerr.Error()})
				m.logger.Warn("bulk grant aborted", "file", file.ID, "email", email, "error", rerr)
				return nil, m.abort(ctx, op, req, res, file, changed, rerr, remoteReason, reasonGrantReconcile)
			}
			normalizeGranted(perm, file.ID, granteeType, email)
			mergePermission(file, *perm)
			changed = true
			res.record(Outcome{FileID: file.ID, PermissionID: perm.ID, Email: email, Action: ActionGrant, Status: OutcomeApplied})
		}
		if changed {
			if err := m.db.UpdateFile(ctx, file); err != nil {
				m.logger.Error("mirror diverged after bulk grant", "file", file.ID, "error", err)
				return nil, &Error{Op: op, Kind: KindReconcile, Reason: reasonGrantReconcile, Request: req, Outcomes: res.Outcomes, Err: err}
			}
		}
	}

	m.logger.Info("permissions added", "files", len(affected), "applied", res.Count(OutcomeApplied), "role", role, "type", granteeType)
	return res, nil
}

// DeletePermissions revokes permissions on each root in fileIDs and on all
// of their descendants. With emails set, only permissions granted to one of
// them are revoked. The first owner's permission is never revoked. A
// permission the remote service no longer knows counts as revoked; any
// other remote failure aborts the run.
func (m *Manager) DeletePermissions(ctx context.Context, fileIDs []string, emails []string) (*BulkResult, error) {
	const op = "DeletePermissions"
	req := Request{FileIDs: fileIDs, Emails: emails}
	if err := m.requireReady(op, req); err != nil {
		return nil, err
	}

	affected, err := m.expandSubtrees(ctx, op, req, fileIDs)
	if err != nil {
		return nil, err
	}

	res := &BulkResult{Files: affected}
	if !anyPermissions(affected) {
		m.logger.Debug("nothing to revoke", "files", len(affected))
		return res, nil
	}

	filter := make(map[string]bool, len(emails))
	for _, e := range emails {
		filter[strings.ToLower(e)] = true
	}

	for _, file := range affected {
		owner, hasOwner := file.Owner()
		kept := make([]Permission, 0, len(file.Permissions))
		changed := false
		for i, p := range file.Permissions {
			email := p.User.EmailAddress
			if len(filter) > 0 && !filter[strings.ToLower(email)] {
				kept = append(kept, p)
				continue
			}
			if hasOwner && sameEmail(email, owner.EmailAddress) {
				kept = append(kept, p)
				res.record(Outcome{FileID: file.ID, PermissionID: p.ID, Email: email, Action: ActionRevoke, Status: OutcomeSkippedOwner})
				continue
			}

			status := OutcomeApplied
			if rerr := m.drive.DeletePermission(ctx, file.ID, p.ID); rerr != nil {
				if !errors.Is(rerr, ErrRemoteNotFound) {
					res.record(Outcome{FileID: file.ID, PermissionID: p.ID, Email: email, Action: ActionRevoke, Status: OutcomeFailed, Detail: rerr.Error()})
					m.logger.Warn("bulk revoke aborted", "file", file.ID, "permission", p.ID, "error", rerr)
					file.Permissions = append(kept, file.Permissions[i:]...)
					return nil, m.abort(ctx, op, req, res, file, changed, rerr, revokeRemoteReason, reasonRevokeReconcile)
				}
				status = OutcomeAlreadySatisfied
			}
			changed = true
			res.record(Outcome{FileID: file.ID, PermissionID: p.ID, Email: email, Action: ActionRevoke, Status: status})
		}
		file.Permissions = kept
		if changed {
			if err := m.db.UpdateFile(ctx, file); err != nil {
				m.logger.Error("mirror diverged after bulk revoke", "file", file.ID, "error", err)
				return nil, &Error{Op: op, Kind: KindReconcile, Reason: reasonRevokeReconcile, Request: req, Outcomes: res.Outcomes, Err: err}
			}
		}
	}

	m.logger.Info("permissions deleted", "files", len(affected), "applied", res.Count(OutcomeApplied),
		"already_satisfied", res.Count(OutcomeAlreadySatisfied), "skipped_owner", res.Count(OutcomeSkippedOwner))
	return res, nil
}

// abort flushes the file being processed when earlier remote mutations on
// it succeeded, and builds the error for a remote failure.
func (m *Manager) abort(ctx context.Context, op string, req Request, res *BulkResult, file *File, changed bool, remoteErr error, reason func(error) string, reconcileReason string) error {
	if changed {
		if err := m.db.UpdateFile(ctx, file); err != nil {
			m.logger.Error("mirror diverged after aborted run", "file", file.ID, "error", err)
			return &Error{Op: op, Kind: KindReconcile, Reason: reconcileReason, Request: req, Outcomes: res.Outcomes, Err: errors.Join(remoteErr, err)}
		}
	}
	return &Error{Op: op, Kind: KindRemote, Reason: reason(remoteErr), Request: req, Outcomes: res.Outcomes, Err: remoteErr}
}

// expandSubtrees resolves the roots and returns the union of their
// subtrees, each file once, in traversal order.
func (m *Manager) expandSubtrees(ctx context.Context, op string, req Request, fileIDs []string) ([]*File, error) {
	if len(fileIDs) == 0 {
		return nil, &Error{Op: op, Kind: KindInvalid, Reason: reasonNoFileIDs, Request: req}
	}

	ids := uniqueStrings(fileIDs)
	roots, err := m.db.FindFiles(ctx, ids)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
	}
	if missing := missingIDs(ids, roots); len(missing) > 0 {
		return nil, &Error{Op: op, Kind: KindNotFound, Reason: reasonFilesNotFound, Request: req, MissingFiles: missing}
	}

	seen := make(map[string]bool)
	var affected []*File
	for _, id := range ids {
		if seen[id] {
			continue
		}
		subtree, err := m.db.FindFileAndSubtree(ctx, id)
		if err != nil {
			return nil, &Error{Op: op, Kind: KindStore, Reason: queryReason(err), Request: req, Err: err}
		}
		for _, f := range subtree {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			affected = append(affected, f)
		}
	}
	m.logger.Debug("expanded subtrees", "roots", len(ids), "files", len(affected))
	return affected, nil
}

// mergePermission appends perm, or replaces the entry with the same id.
func mergePermission(file *File, perm Permission) {
	for i := range file.Permissions {
		if file.Permissions[i].ID == perm.ID {
			file.Permissions[i] = perm
			return
		}
	}
	file.Permissions = append(file.Permissions, perm)
}

func anyPermissions(files []*File) bool {
	for _, f := range files {
		if len(f.Permissions) > 0 {
			return true
		}
	}
	return false
}

func uniqueEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		k := strings.ToLower(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
