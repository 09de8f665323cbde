package drive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"drivemirror/internal/mirror"
)

// Call records one request made to a MemoryDrive.
type Call struct {
	Method       string // "ListFiles", "CreatePermission" or "DeletePermission"
	FileID       string
	PermissionID string
	Request      mirror.PermissionRequest
}

// MemoryDrive is an in-process remote file service. It serves a fixed
// listing, applies permission changes to its own copy, and records every
// call. Failures can be injected per call. Safe for concurrent use.
type MemoryDrive struct {
	mu       sync.Mutex
	ids      mirror.IDGenerator
	files    []*mirror.File
	byID     map[string]*mirror.File
	grantees map[string]string // grantee key -> permission id
	calls    []Call

	failList   error
	failCreate func(fileID string, req mirror.PermissionRequest) error
	failDelete func(fileID, permissionID string) error
}

// NewMemoryDrive creates a drive serving copies of files in listing order.
func NewMemoryDrive(ids mirror.IDGenerator, files ...*mirror.File) *MemoryDrive {
	if ids == nil {
		ids = mirror.UUIDGenerator{}
	}
	d := &MemoryDrive{
		ids:      ids,
		byID:     make(map[string]*mirror.File),
		grantees: make(map[string]string),
	}
	d.AddFiles(files...)
	return d
}

// AddFiles appends copies of files to the listing.
func (d *MemoryDrive) AddFiles(files ...*mirror.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range files {
		c := f.Clone()
		for i := range c.Permissions {
			c.Permissions[i].FileID = c.ID
			d.grantees[granteeKey(c.Permissions[i].Type, c.Permissions[i].Grantee())] = c.Permissions[i].ID
		}
		d.files = append(d.files, c)
		d.byID[c.ID] = c
	}
}

// FailListWith makes every ListFiles call fail with err. nil clears it.
func (d *MemoryDrive) FailListWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failList = err
}

// FailCreateWhen makes CreatePermission fail whenever fn returns an error.
func (d *MemoryDrive) FailCreateWhen(fn func(fileID string, req mirror.PermissionRequest) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCreate = fn
}

// FailDeleteWhen makes DeletePermission fail whenever fn returns an error.
func (d *MemoryDrive) FailDeleteWhen(fn func(fileID, permissionID string) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDelete = fn
}

// Calls returns every recorded call in order.
func (d *MemoryDrive) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallCount returns the number of recorded calls of method.
func (d *MemoryDrive) CallCount(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// File returns a copy of the remote state of a file, or nil.
func (d *MemoryDrive) File(id string) *mirror.File {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.byID[id]; ok {
		return f.Clone()
	}
	return nil
}

// ListFiles pages through the listing. The page token is the offset of the
// next page.
func (d *MemoryDrive) ListFiles(ctx context.Context, pageToken string, pageSize int) (*mirror.FilePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: "ListFiles"})
	if d.failList != nil {
		return nil, d.failList
	}

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(d.files) {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		start = n
	}
	end := len(d.files)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}

	page := &mirror.FilePage{Files: make([]*mirror.File, 0, end-start)}
	for _, f := range d.files[start:end] {
		page.Files = append(page.Files, f.Clone())
	}
	if end < len(d.files) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// CreatePermission grants access. Granting to a grantee that already has a
// permission on the file updates its role, as the remote service does.
func (d *MemoryDrive) CreatePermission(ctx context.Context, fileID string, req mirror.PermissionRequest) (*mirror.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: "CreatePermission", FileID: fileID, Request: req})
	if d.failCreate != nil {
		if err := d.failCreate(fileID, req); err != nil {
			return nil, err
		}
	}

	f, ok := d.byID[fileID]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, mirror.ErrRemoteNotFound)
	}

	grantee := req.EmailAddress
	if req.Type == mirror.GranteeDomain {
		grantee = req.Domain
	}
	key := granteeKey(req.Type, grantee)
	id, ok := d.grantees[key]
	if !ok {
		id = d.ids.New()
		if req.Type == mirror.GranteeAnyone {
			id = "anyoneWithLink"
		}
		d.grantees[key] = id
	}

	perm := mirror.Permission{
		ID:     id,
		FileID: fileID,
		Type:   req.Type,
		Role:   req.Role,
		Domain: req.Domain,
		User:   mirror.User{EmailAddress: req.EmailAddress},
	}
	for i := range f.Permissions {
		if f.Permissions[i].ID == id {
			f.Permissions[i] = perm
			return &perm, nil
		}
	}
	f.Permissions = append(f.Permissions, perm)
	return &perm, nil
}

func (d *MemoryDrive) DeletePermission(ctx context.Context, fileID, permissionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Method: "DeletePermission", FileID: fileID, PermissionID: permissionID})
	if d.failDelete != nil {
		if err := d.failDelete(fileID, permissionID); err != nil {
			return err
		}
	}

	f, ok := d.byID[fileID]
	if !ok {
		return fmt.Errorf("file %s: %w", fileID, mirror.ErrRemoteNotFound)
	}
	for i, p := range f.Permissions {
		if p.ID == permissionID {
			f.Permissions = append(f.Permissions[:i:i], f.Permissions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("permission %s on %s: %w", permissionID, fileID, mirror.ErrRemoteNotFound)
}

func granteeKey(t mirror.GranteeType, grantee string) string {
	return string(t) + ":" + strings.ToLower(grantee)
}

var _ mirror.Drive = (*MemoryDrive)(nil)
