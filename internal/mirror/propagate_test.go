package mirror_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"drivemirror/internal/drive"
	"drivemirror/internal/mirror"
	"drivemirror/internal/testutil"
)

func TestDeletePermissions_ChildOfRoot(t *testing.T) {
	ctx := context.Background()
	m, d, db := newReadyManager(t,
		testutil.NewFile("F1", "", ""),
		testutil.NewFile("F2", "F1", "", testutil.UserPermission("", "P1", "user@example.com", mirror.RoleReader)),
	)

	res, err := m.DeletePermissions(ctx, []string{"F1"}, []string{"user@example.com"})
	if err != nil {
		t.Fatalf("DeletePermissions() error = %v", err)
	}
	if got := fileIDs(res.Files); !slices.Equal(got, []string{"F1", "F2"}) {
		t.Errorf("Files = %v, want [F1 F2]", got)
	}
	for _, f := range res.Files {
		if len(f.Permissions) != 0 {
			t.Errorf("%s permissions = %v, want none", f.ID, permIDs(f.Permissions))
		}
	}
	calls := d.Calls()
	var revokes []drive.Call
	for _, c := range calls {
		if c.Method == "DeletePermission" {
			revokes = append(revokes, c)
		}
	}
	if len(revokes) != 1 || revokes[0].FileID != "F2" || revokes[0].PermissionID != "P1" {
		t.Errorf("remote revokes = %+v, want exactly P1 on F2", revokes)
	}
	if got := mustFindFile(t, db, "F2").Permissions; len(got) != 0 {
		t.Errorf("stored F2 permissions = %v, want none", permIDs(got))
	}
}

func TestDeletePermissions_OwnerProtected(t *testing.T) {
	ctx := context.Background()
	files := []*mirror.File{
		testutil.NewFile("root", "", "Owner@Example.com",
			testutil.UserPermission("", "p-alice", "alice@example.com", mirror.RoleWriter)),
		testutil.NewFile("child", "root", "Owner@Example.com"),
	}

	tests := []struct {
		name   string
		emails []string
	}{
		{name: "owner named in filter", emails: []string{"owner@example.com", "alice@example.com"}},
		{name: "no filter", emails: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, d, db := newReadyManager(t, files...)

			res, err := m.DeletePermissions(ctx, []string{"root"}, tt.emails)
			if err != nil {
				t.Fatalf("DeletePermissions() error = %v", err)
			}
			if n := res.Count(mirror.OutcomeSkippedOwner); n != 2 {
				t.Errorf("skipped_owner = %d, want 2", n)
			}
			if n := res.Count(mirror.OutcomeApplied); n != 1 {
				t.Errorf("applied = %d, want 1", n)
			}
			for _, c := range d.Calls() {
				if c.Method == "DeletePermission" && c.PermissionID != "p-alice" {
					t.Errorf("revoked %s on %s", c.PermissionID, c.FileID)
				}
			}
			for _, id := range []string{"root", "child"} {
				f := mustFindFile(t, db, id)
				if !f.HasPermission("owner-Owner@Example.com") {
					t.Errorf("%s lost its owner permission: %v", id, permIDs(f.Permissions))
				}
				if f.HasPermission("p-alice") {
					t.Errorf("%s still lists p-alice", id)
				}
			}
		})
	}
}

func TestDeletePermissions_NothingToRevoke(t *testing.T) {
	ctx := context.Background()
	m, d, _ := newReadyManager(t,
		testutil.NewFile("a", "", ""),
		testutil.NewFile("b", "a", ""),
		testutil.NewFile("c", "b", ""),
	)

	res, err := m.DeletePermissions(ctx, []string{"a"}, []string{"x@example.com"})
	if err != nil {
		t.Fatalf("DeletePermissions() error = %v", err)
	}
	if got := fileIDs(res.Files); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Files = %v, want [a b c]", got)
	}
	if len(res.Outcomes) != 0 {
		t.Errorf("Outcomes = %+v, want none", res.Outcomes)
	}
	if n := d.CallCount("DeletePermission"); n != 0 {
		t.Errorf("DeletePermission calls = %d, want 0", n)
	}
}

func TestDeletePermissions_FilterLeavesOthers(t *testing.T) {
	ctx := context.Background()
	m, _, db := newReadyManager(t, sampleTree()...)

	res, err := m.DeletePermissions(ctx, []string{"root"}, []string{"BOB@example.com"})
	if err != nil {
		t.Fatalf("DeletePermissions() error = %v", err)
	}
	if n := res.Count(mirror.OutcomeApplied); n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	report := mustFindFile(t, db, "report")
	if got := permIDs(report.Permissions); !slices.Equal(got, []string{"owner-owner@example.com", "p-alice"}) {
		t.Errorf("report permissions = %v", got)
	}
}

func TestDeletePermissions_RemoteNotFoundAbsorbed(t *testing.T) {
	ctx := context.Background()
	m, d, db := newReadyManager(t, sampleTree()...)
	if err := d.DeletePermission(ctx, "docs", "p-alice"); err != nil {
		t.Fatal(err)
	}

	res, err := m.DeletePermissions(ctx, []string{"root"}, []string{"alice@example.com"})
	if err != nil {
		t.Fatalf("DeletePermissions() error = %v", err)
	}
	if n := res.Count(mirror.OutcomeAlreadySatisfied); n != 1 {
		t.Errorf("already_satisfied = %d, want 1", n)
	}
	if n := res.Count(mirror.OutcomeApplied); n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	for _, id := range []string{"docs", "report"} {
		if mustFindFile(t, db, id).HasPermission("p-alice") {
			t.Errorf("%s still lists p-alice", id)
		}
	}
}

func TestDeletePermissions_AbortKeepsProgress(t *testing.T) {
	ctx := context.Background()
	m, d, db := newReadyManager(t, sampleTree()...)
	d.FailDeleteWhen(func(fileID, permissionID string) error {
		if fileID == "report" && permissionID == "p-bob" {
			return errors.New("backend error")
		}
		return nil
	})

	_, err := m.DeletePermissions(ctx, []string{"root"}, nil)
	merr := asMirrorError(t, err)
	if merr.Kind != mirror.KindRemote || !errors.Is(err, mirror.ErrRemote) {
		t.Fatalf("DeletePermissions() error = %+v", merr)
	}
	if !strings.HasPrefix(merr.Reason, "Something went wrong with Google Drive API call:\n") {
		t.Errorf("Reason = %q", merr.Reason)
	}
	if n := len(merr.Succeeded()); n != 2 {
		t.Errorf("Succeeded() = %+v, want p-alice on docs and report", merr.Succeeded())
	}
	last := merr.Outcomes[len(merr.Outcomes)-1]
	if last.Status != mirror.OutcomeFailed || last.PermissionID != "p-bob" {
		t.Errorf("last outcome = %+v, want failed p-bob", last)
	}

	if mustFindFile(t, db, "docs").HasPermission("p-alice") {
		t.Error("docs: earlier remote revoke not persisted")
	}
	report := mustFindFile(t, db, "report")
	if got := permIDs(report.Permissions); !slices.Equal(got, []string{"owner-owner@example.com", "p-bob"}) {
		t.Errorf("report permissions = %v, want owner and p-bob", got)
	}
}

func TestDeletePermissions_StoreFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := withStore(t, &failingStore{failUpdate: func(*mirror.File) error { return errors.New("disk full") }}, sampleTree()...)

	_, err := m.DeletePermissions(ctx, []string{"docs"}, nil)
	merr := asMirrorError(t, err)
	if merr.Kind != mirror.KindReconcile || merr.Reason != "There was a problem updating our db. The permission was already removed in Drive." {
		t.Errorf("DeletePermissions() error = %+v", merr)
	}
	if len(merr.Succeeded()) == 0 {
		t.Error("Succeeded() empty, want the applied revokes")
	}
}

func TestDeletePermissions_Validation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newReadyManager(t, sampleTree()...)

	_, err := m.DeletePermissions(ctx, nil, nil)
	if merr := asMirrorError(t, err); merr.Reason != "No file ids were provided." {
		t.Errorf("DeletePermissions(nil) error = %+v", merr)
	}

	_, err = m.DeletePermissions(ctx, []string{"root", "ghost"}, nil)
	merr := asMirrorError(t, err)
	if merr.Reason != "Files not found." || !slices.Equal(merr.MissingFiles, []string{"ghost"}) {
		t.Errorf("DeletePermissions() error = %+v", merr)
	}
}

func TestAddPermissions_Subtree(t *testing.T) {
	ctx := context.Background()
	m, d, db := newReadyManager(t, sampleTree()...)

	res, err := m.AddPermissions(ctx, []string{"root", "docs"}, mirror.RoleCommenter, mirror.GranteeUser,
		[]string{"erin@example.com", "ERIN@example.com", "frank@example.com"})
	if err != nil {
		t.Fatalf("AddPermissions() error = %v", err)
	}
	if got := fileIDs(res.Files); !slices.Equal(got, []string{"root", "docs", "report"}) {
		t.Errorf("Files = %v, want each subtree file once", got)
	}
	if n := d.CallCount("CreatePermission"); n != 6 {
		t.Errorf("CreatePermission calls = %d, want 3 files x 2 emails", n)
	}
	if n := res.Count(mirror.OutcomeApplied); n != 6 {
		t.Errorf("applied = %d, want 6", n)
	}

	for _, id := range []string{"root", "docs", "report"} {
		f := mustFindFile(t, db, id)
		var emails []string
		for _, p := range f.Permissions {
			if p.Role == mirror.RoleCommenter {
				emails = append(emails, p.User.EmailAddress)
			}
		}
		if got := sorted(emails); !slices.Equal(got, []string{"erin@example.com", "frank@example.com"}) {
			t.Errorf("%s commenters = %v", id, got)
		}
	}
	if f := mustFindFile(t, db, "other"); len(f.Permissions) != 1 {
		t.Errorf("other permissions = %v, want untouched", permIDs(f.Permissions))
	}

	perms, err := m.GetPermissions(ctx, mirror.PermissionQuery{EmailAddress: "frank@example.com"})
	if err != nil {
		t.Fatalf("GetPermissions() error = %v", err)
	}
	if len(perms) != 3 {
		t.Errorf("frank permissions = %d, want 3", len(perms))
	}
}

func TestAddPermissions_ExistingGranteeUpdated(t *testing.T) {
	ctx := context.Background()
	m, _, db := newReadyManager(t, sampleTree()...)

	if _, err := m.AddPermissions(ctx, []string{"docs"}, mirror.RoleWriter, mirror.GranteeUser, []string{"alice@example.com"}); err != nil {
		t.Fatalf("AddPermissions() error = %v", err)
	}
	for _, id := range []string{"docs", "report"} {
		perms, err := db.FindPermissions(ctx, id, []string{"p-alice"})
		if err != nil {
			t.Fatalf("FindPermissions() error = %v", err)
		}
		if len(perms) != 1 || perms[0].Role != mirror.RoleWriter {
			t.Errorf("%s p-alice = %+v, want one writer", id, perms)
		}
		if n := len(mustFindFile(t, db, id).Permissions); n != map[string]int{"docs": 2, "report": 3}[id] {
			t.Errorf("%s permission count = %d, want no duplicate", id, n)
		}
	}
}

func TestAddPermissions_AbortKeepsProgress(t *testing.T) {
	ctx := context.Background()
	m, d, db := newReadyManager(t, sampleTree()...)
	d.FailCreateWhen(func(fileID string, req mirror.PermissionRequest) error {
		if fileID == "report" && req.EmailAddress == "frank@example.com" {
			return fmt.Errorf("rejected: %w", errors.New("sharing disabled"))
		}
		return nil
	})

	_, err := m.AddPermissions(ctx, []string{"root"}, mirror.RoleReader, mirror.GranteeUser,
		[]string{"erin@example.com", "frank@example.com"})
	merr := asMirrorError(t, err)
	if merr.Kind != mirror.KindRemote {
		t.Fatalf("AddPermissions() error = %+v", merr)
	}
	if !strings.HasPrefix(merr.Reason, "Drive API request failed or was rejected:\n") {
		t.Errorf("Reason = %q", merr.Reason)
	}
	// root and docs fully, report only for erin.
	if n := len(merr.Succeeded()); n != 5 {
		t.Errorf("Succeeded() = %d outcomes, want 5", n)
	}
	if n := d.CallCount("CreatePermission"); n != 6 {
		t.Errorf("CreatePermission calls = %d, want 6", n)
	}

	report := mustFindFile(t, db, "report")
	var emails []string
	for _, p := range report.Permissions {
		if p.Role == mirror.RoleReader {
			emails = append(emails, p.User.EmailAddress)
		}
	}
	if got := sorted(emails); !slices.Equal(got, []string{"alice@example.com", "erin@example.com"}) {
		t.Errorf("report readers = %v, want in-flight grant flushed", got)
	}
	if !hasGrantee(mustFindFile(t, db, "docs"), "frank@example.com") {
		t.Error("docs: earlier grant not persisted")
	}
}

func TestAddPermissions_StoreFailure(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{failUpdate: func(f *mirror.File) error {
		if f.ID == "docs" {
			return errors.New("disk full")
		}
		return nil
	}}
	m, _ := withStore(t, fs, sampleTree()...)

	_, err := m.AddPermissions(ctx, []string{"root"}, mirror.RoleReader, mirror.GranteeUser, []string{"erin@example.com"})
	merr := asMirrorError(t, err)
	if merr.Kind != mirror.KindReconcile || !errors.Is(err, mirror.ErrReconcile) {
		t.Fatalf("AddPermissions() error = %+v", merr)
	}
	if got := len(merr.Succeeded()); got != 2 {
		t.Errorf("Succeeded() = %d, want grants on root and docs", got)
	}
}

func TestAddPermissions_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		fileIDs     []string
		role        mirror.Role
		granteeType mirror.GranteeType
		emails      []string
		reason      string
	}{
		{name: "no emails", fileIDs: []string{"root"}, role: "reader", granteeType: "user", reason: "Invalid email format."},
		{name: "bad email", fileIDs: []string{"root"}, role: "reader", granteeType: "user", emails: []string{"a@b.com", "nope"}, reason: "Invalid email format."},
		{name: "bad role", fileIDs: []string{"root"}, role: "boss", granteeType: "user", emails: []string{"a@b.com"}, reason: "Invalid role was provided."},
		{name: "bad type", fileIDs: []string{"root"}, role: "reader", granteeType: "team", emails: []string{"a@b.com"}, reason: "Invalid granteeType was provided."},
		{name: "no files", role: "reader", granteeType: "user", emails: []string{"a@b.com"}, reason: "No file ids were provided."},
		{name: "missing file", fileIDs: []string{"ghost"}, role: "reader", granteeType: "user", emails: []string{"a@b.com"}, reason: "Files not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, d, _ := newReadyManager(t, sampleTree()...)

			_, err := m.AddPermissions(ctx, tt.fileIDs, tt.role, tt.granteeType, tt.emails)
			merr := asMirrorError(t, err)
			if merr.Reason != tt.reason || !merr.Kind.ClientError() {
				t.Errorf("AddPermissions() error = %+v, want %q", merr, tt.reason)
			}
			if !slices.Equal(merr.Request.Emails, tt.emails) {
				t.Errorf("Request.Emails = %v, want %v", merr.Request.Emails, tt.emails)
			}
			if n := d.CallCount("CreatePermission"); n != 0 {
				t.Errorf("CreatePermission calls = %d, want 0", n)
			}
		})
	}
}

func hasGrantee(f *mirror.File, email string) bool {
	for _, p := range f.Permissions {
		if p.User.EmailAddress == email {
			return true
		}
	}
	return false
}

func TestGrantValidation_SameReasonForSingleAndBulk(t *testing.T) {
	ctx := context.Background()
	m, d, _ := newReadyManager(t, sampleTree()...)

	tests := []struct {
		name        string
		role        mirror.Role
		granteeType mirror.GranteeType
		email       string
	}{
		{name: "bad role and bad email", role: "admin", granteeType: mirror.GranteeUser, email: "not-an-email"},
		{name: "bad role", role: "admin", granteeType: mirror.GranteeUser, email: "a@b.com"},
		{name: "bad type", role: mirror.RoleReader, granteeType: "robot", email: "a@b.com"},
		{name: "bad email", role: mirror.RoleReader, granteeType: mirror.GranteeGroup, email: "team"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AddPermission(ctx, "root", tt.role, tt.granteeType, tt.email)
			single := asMirrorError(t, err)
			_, err = m.AddPermissions(ctx, []string{"root"}, tt.role, tt.granteeType, []string{tt.email})
			bulk := asMirrorError(t, err)
			if single.Reason != bulk.Reason {
				t.Errorf("AddPermission() reason = %q, AddPermissions() reason = %q", single.Reason, bulk.Reason)
			}
		})
	}
	if n := d.CallCount("CreatePermission"); n != 0 {
		t.Errorf("CreatePermission calls = %d, want 0", n)
	}
}
