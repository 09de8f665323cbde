package mirror_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"drivemirror/internal/drive"
	"drivemirror/internal/mirror"
	"drivemirror/internal/testutil"
)

// newReadyManager seeds a memory drive with files, ingests it, and returns
// the manager together with its drive and store.
func newReadyManager(t *testing.T, files ...*mirror.File) (*mirror.Manager, *drive.MemoryDrive, mirror.Database) {
	t.Helper()
	m, d, db := newManager(t, files...)
	if err := m.InitDB(context.Background()); err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	return m, d, db
}

func newManager(t *testing.T, files ...*mirror.File) (*mirror.Manager, *drive.MemoryDrive, mirror.Database) {
	t.Helper()
	d := testutil.NewTestDrive(files...)
	db := testutil.NewTestDatabase(t)
	m := mirror.NewManager(db, d, mirror.NewNopLogger(), testutil.FixedClock())
	return m, d, db
}

// failingStore wraps a Database and fails selected mutations.
type failingStore struct {
	mirror.Database
	failAdd    error
	failRemove error
	failUpdate func(f *mirror.File) error
}

func (s *failingStore) AddFilePermission(ctx context.Context, file *mirror.File, perm mirror.Permission) error {
	if s.failAdd != nil {
		return s.failAdd
	}
	return s.Database.AddFilePermission(ctx, file, perm)
}

func (s *failingStore) RemoveFilePermission(ctx context.Context, file *mirror.File, permissionID string) error {
	if s.failRemove != nil {
		return s.failRemove
	}
	return s.Database.RemoveFilePermission(ctx, file, permissionID)
}

func (s *failingStore) UpdateFile(ctx context.Context, file *mirror.File) error {
	if s.failUpdate != nil {
		if err := s.failUpdate(file); err != nil {
			return err
		}
	}
	return s.Database.UpdateFile(ctx, file)
}

// withStore ingests files through a plain store, then returns a manager
// over the same store wrapped by fs.
func withStore(t *testing.T, fs *failingStore, files ...*mirror.File) (*mirror.Manager, *drive.MemoryDrive) {
	t.Helper()
	_, d, db := newReadyManager(t, files...)
	fs.Database = db
	m := mirror.NewManager(fs, d, mirror.NewNopLogger(), testutil.FixedClock())
	m.Readiness().MarkReady(testutil.FixedClock().Now())
	return m, d
}

func asMirrorError(t *testing.T, err error) *mirror.Error {
	t.Helper()
	var merr *mirror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v (%T), want *mirror.Error", err, err)
	}
	return merr
}

func fileIDs(files []*mirror.File) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

func permIDs(perms []mirror.Permission) []string {
	ids := make([]string, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	return ids
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func mustFindFile(t *testing.T, db mirror.Database, id string) *mirror.File {
	t.Helper()
	f, err := db.FindFile(context.Background(), id)
	if err != nil {
		t.Fatalf("FindFile(%s) error = %v", id, err)
	}
	if f == nil {
		t.Fatalf("FindFile(%s) = nil", id)
	}
	return f
}
