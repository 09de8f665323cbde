package mirror

import (
	"context"
	"fmt"
)

const reasonPopulateFailed = "Failed to populate db."

// InitDB rebuilds the mirror from a full remote listing. The mirror is
// ready once InitDB returns nil; a failed run leaves it in StateFailed and
// the previous contents untouched.
func (m *Manager) InitDB(ctx context.Context) error {
	const op = "InitDB"
	if err := m.ready.begin(); err != nil {
		return &Error{Op: op, Kind: KindUnavailable, Reason: reasonNotReady, Err: err}
	}
	err := m.ingest(ctx, op)
	m.ready.finish(err)
	return err
}

func (m *Manager) ingest(ctx context.Context, op string) error {
	mat := NewMaterializer()
	token := ""
	pages := 0
	for {
		page, err := m.drive.ListFiles(ctx, token, m.pageSize)
		if err != nil {
			m.logger.Error("listing failed", "page", pages+1, "error", err)
			return &Error{Op: op, Kind: KindRemote, Reason: remoteReason(err), Err: err}
		}
		pages++
		for _, f := range page.Files {
			normalizeListed(f)
		}
		mat.Add(page.Files...)
		m.logger.Debug("listed page", "page", pages, "files", len(page.Files), "total", mat.Len())

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == token {
			err := fmt.Errorf("page token %q repeated", token)
			return &Error{Op: op, Kind: KindRemote, Reason: remoteReason(err), Err: err}
		}
		token = page.NextPageToken
	}

	files := mat.Finish()
	if err := m.db.ReplaceAll(ctx, files); err != nil {
		m.logger.Error("populating mirror failed", "files", len(files), "error", err)
		return &Error{Op: op, Kind: KindStore, Reason: reasonPopulateFailed, Err: err}
	}

	m.logger.Info("mirror initialized", "files", len(files), "pages", pages)
	return nil
}

// normalizeListed ties every listed permission to its file.
func normalizeListed(f *File) {
	for i := range f.Permissions {
		f.Permissions[i].FileID = f.ID
	}
}
