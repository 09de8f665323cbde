package mirror

import "strings"

// Role is the access level a permission grants.
type Role string

const (
	RoleOwner         Role = "owner"
	RoleOrganizer     Role = "organizer"
	RoleFileOrganizer Role = "fileOrganizer"
	RoleWriter        Role = "writer"
	RoleCommenter     Role = "commenter"
	RoleReader        Role = "reader"
)

// Valid reports whether r is one of the six roles the remote service knows.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleOrganizer, RoleFileOrganizer, RoleWriter, RoleCommenter, RoleReader:
		return true
	}
	return false
}

// GranteeType is the kind of principal a permission targets.
type GranteeType string

const (
	GranteeUser   GranteeType = "user"
	GranteeGroup  GranteeType = "group"
	GranteeDomain GranteeType = "domain"
	GranteeAnyone GranteeType = "anyone"
)

// Valid reports whether t is one of the four grantee types.
func (t GranteeType) Valid() bool {
	switch t {
	case GranteeUser, GranteeGroup, GranteeDomain, GranteeAnyone:
		return true
	}
	return false
}

// User is a person or group known by email address.
type User struct {
	EmailAddress string `json:"emailAddress" yaml:"emailAddress"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	PhotoLink    string `json:"photoLink,omitempty" yaml:"photoLink,omitempty"`
}

// Permission is a single access-control entry on a file.
// The same ID may appear on many files (it identifies the grantee), so a
// permission is only unique together with its FileID.
type Permission struct {
	ID             string      `json:"id" yaml:"id"`
	FileID         string      `json:"fileId" yaml:"fileId"`
	Type           GranteeType `json:"type" yaml:"type"`
	Role           Role        `json:"role" yaml:"role"`
	Domain         string      `json:"domain,omitempty" yaml:"domain,omitempty"`
	ExpirationDate string      `json:"expirationDate,omitempty" yaml:"expirationDate,omitempty"`
	Deleted        bool        `json:"deleted" yaml:"deleted"`
	PendingOwner   bool        `json:"pendingOwner,omitempty" yaml:"pendingOwner,omitempty"`
	User           User        `json:"user" yaml:"user"`
}

// File is a mirrored remote file or folder.
// Children always holds ids; use RestructureFiles for a nested view.
type File struct {
	ID          string       `json:"id" yaml:"id"`
	Kind        string       `json:"kind" yaml:"kind"`
	Name        string       `json:"name" yaml:"name"`
	MimeType    string       `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Parents     []string     `json:"parents" yaml:"parents"`
	Children    []string     `json:"children" yaml:"children"`
	Owners      []User       `json:"owners" yaml:"owners"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Parent returns the canonical parent id, or "" for a root.
func (f *File) Parent() string {
	if len(f.Parents) == 0 {
		return ""
	}
	return f.Parents[0]
}

// Owner returns the first owner, which is protected from bulk revoke.
func (f *File) Owner() (User, bool) {
	if len(f.Owners) == 0 {
		return User{}, false
	}
	return f.Owners[0], true
}

// PermissionIDs returns the ids of the file's permissions in order.
func (f *File) PermissionIDs() []string {
	ids := make([]string, len(f.Permissions))
	for i, p := range f.Permissions {
		ids[i] = p.ID
	}
	return ids
}

// HasPermission reports whether a permission with the given id is listed.
func (f *File) HasPermission(id string) bool {
	for _, p := range f.Permissions {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of f.
func (f *File) Clone() *File {
	c := *f
	c.Parents = append([]string(nil), f.Parents...)
	c.Children = append([]string(nil), f.Children...)
	c.Owners = append([]User(nil), f.Owners...)
	c.Permissions = append([]Permission(nil), f.Permissions...)
	return &c
}

// TreeNode is a file with its children resolved to nested nodes.
type TreeNode struct {
	File     *File       `json:"file" yaml:"file"`
	Children []*TreeNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// Grantee returns the email address, or the domain for domain grantees.
func (p Permission) Grantee() string {
	if p.Type == GranteeDomain {
		return p.Domain
	}
	return p.User.EmailAddress
}

// sameEmail compares email addresses the way the remote service does.
func sameEmail(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
