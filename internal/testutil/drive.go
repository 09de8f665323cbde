package testutil

import (
	"drivemirror/internal/drive"
	"drivemirror/internal/mirror"
)

// NewTestDrive creates a memory drive serving files, with sequential
// permission ids.
func NewTestDrive(files ...*mirror.File) *drive.MemoryDrive {
	return drive.NewMemoryDrive(&PermissionIDs{}, files...)
}

// NewFile builds a file. An empty parent makes it a root. A non-empty
// owner becomes owners[0] and gets the first permission.
func NewFile(id, parent, owner string, perms ...mirror.Permission) *mirror.File {
	f := &mirror.File{ID: id, Kind: "drive#file", Name: id}
	if parent != "" {
		f.Parents = []string{parent}
	}
	if owner != "" {
		f.Owners = []mirror.User{{EmailAddress: owner}}
		f.Permissions = append(f.Permissions, UserPermission(id, "owner-"+owner, owner, mirror.RoleOwner))
	}
	for _, p := range perms {
		p.FileID = id
		f.Permissions = append(f.Permissions, p)
	}
	return f
}

// UserPermission builds a user permission on fileID.
func UserPermission(fileID, id, email string, role mirror.Role) mirror.Permission {
	return mirror.Permission{
		ID:     id,
		FileID: fileID,
		Type:   mirror.GranteeUser,
		Role:   role,
		User:   mirror.User{EmailAddress: email},
	}
}
