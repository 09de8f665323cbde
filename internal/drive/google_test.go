package drive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"drivemirror/internal/mirror"
)

func newTestGoogleDrive(t *testing.T, handler http.HandlerFunc) *GoogleDrive {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	d, err := NewGoogleDrive(context.Background(), srv.Client(), GoogleOptions{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewGoogleDrive() error = %v", err)
	}
	return d
}

func TestGoogleDrive_ListFiles(t *testing.T) {
	d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/files" {
			t.Errorf("request = %s %s, want GET /files", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("pageToken") != "tok-1" || q.Get("pageSize") != "2" {
			t.Errorf("query = %v, want pageToken=tok-1 pageSize=2", q)
		}
		if q.Get("corpora") != "allDrives" || q.Get("supportsAllDrives") != "true" || q.Get("includeItemsFromAllDrives") != "true" {
			t.Errorf("query = %v, want all drives", q)
		}
		if q.Get("fields") != listFields {
			t.Errorf("fields = %q, want %q", q.Get("fields"), listFields)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"nextPageToken": "tok-2",
			"files": [{
				"id": "doc", "name": "Doc", "kind": "drive#file", "mimeType": "text/plain",
				"parents": ["root"],
				"owners": [{"emailAddress": "owner@example.com", "displayName": "Owner"}],
				"permissions": [{"id": "p1", "type": "user", "role": "reader", "emailAddress": "a@example.com", "displayName": "A",
					"expirationTime": "2030-01-01T00:00:00Z"}]
			}]
		}`))
	})

	page, err := d.ListFiles(context.Background(), "tok-1", 2)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if page.NextPageToken != "tok-2" {
		t.Errorf("NextPageToken = %q, want tok-2", page.NextPageToken)
	}
	if len(page.Files) != 1 {
		t.Fatalf("len(Files) = %d, want 1", len(page.Files))
	}
	f := page.Files[0]
	if f.ID != "doc" || f.Parent() != "root" || f.MimeType != "text/plain" {
		t.Errorf("file = %+v", f)
	}
	if owner, ok := f.Owner(); !ok || owner.EmailAddress != "owner@example.com" {
		t.Errorf("Owner() = %+v, %v", owner, ok)
	}
	p := f.Permissions[0]
	if p.FileID != "doc" || p.Role != mirror.RoleReader || p.User.EmailAddress != "a@example.com" || p.User.DisplayName != "A" {
		t.Errorf("permission = %+v", p)
	}
	if p.ExpirationDate != "2030-01-01T00:00:00Z" {
		t.Errorf("ExpirationDate = %q", p.ExpirationDate)
	}
}

func TestGoogleDrive_CreatePermission(t *testing.T) {
	tests := []struct {
		name       string
		req        mirror.PermissionRequest
		wantNotify string
	}{
		{
			name:       "user grant sends no email",
			req:        mirror.PermissionRequest{Role: mirror.RoleWriter, Type: mirror.GranteeUser, EmailAddress: "a@example.com"},
			wantNotify: "false",
		},
		{
			name:       "domain grant leaves notification unset",
			req:        mirror.PermissionRequest{Role: mirror.RoleReader, Type: mirror.GranteeDomain, Domain: "example.com"},
			wantNotify: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/files/doc/permissions" {
					t.Errorf("request = %s %s, want POST /files/doc/permissions", r.Method, r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("sendNotificationEmail") != tt.wantNotify {
					t.Errorf("sendNotificationEmail = %q, want %q", q.Get("sendNotificationEmail"), tt.wantNotify)
				}
				if q.Get("supportsAllDrives") != "true" {
					t.Errorf("query = %v, want supportsAllDrives", q)
				}
				var body drivev3.Permission
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decoding body: %v", err)
				}
				if body.Role != string(tt.req.Role) || body.Type != string(tt.req.Type) ||
					body.EmailAddress != tt.req.EmailAddress || body.Domain != tt.req.Domain {
					t.Errorf("body = %+v, want %+v", body, tt.req)
				}
				json.NewEncoder(w).Encode(drivev3.Permission{
					Id: "p9", Type: body.Type, Role: body.Role, EmailAddress: body.EmailAddress, Domain: body.Domain,
				})
			})

			perm, err := d.CreatePermission(context.Background(), "doc", tt.req)
			if err != nil {
				t.Fatalf("CreatePermission() error = %v", err)
			}
			if perm.ID != "p9" || perm.FileID != "doc" || perm.Role != tt.req.Role || perm.Domain != tt.req.Domain {
				t.Errorf("CreatePermission() = %+v", perm)
			}
		})
	}
}

func TestGoogleDrive_DeletePermission(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete || r.URL.Path != "/files/doc/permissions/p1" {
				t.Errorf("request = %s %s", r.Method, r.URL.Path)
			}
			if r.URL.Query().Get("supportsAllDrives") != "true" {
				t.Errorf("query = %v, want supportsAllDrives", r.URL.Query())
			}
			w.WriteHeader(http.StatusNoContent)
		})

		if err := d.DeletePermission(context.Background(), "doc", "p1"); err != nil {
			t.Fatalf("DeletePermission() error = %v", err)
		}
	})

	t.Run("not found matches sentinel", func(t *testing.T) {
		d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"code": 404, "message": "Permission not found: p1.", "errors": [{"reason": "notFound"}]}}`))
		})

		err := d.DeletePermission(context.Background(), "doc", "p1")
		if !errors.Is(err, mirror.ErrRemoteNotFound) {
			t.Fatalf("DeletePermission() error = %v, want ErrRemoteNotFound", err)
		}
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
			t.Errorf("googleapi.Error = %+v, want code 404", apiErr)
		}
	})
}

func TestGoogleDrive_Errors(t *testing.T) {
	t.Run("client error is not a missing file", func(t *testing.T) {
		d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"code": 400, "message": "Bad role.", "errors": [{"reason": "invalid"}]}}`))
		})

		_, err := d.CreatePermission(context.Background(), "doc", mirror.PermissionRequest{Role: "boss", Type: mirror.GranteeUser})
		var apiErr *googleapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest || apiErr.Message != "Bad role." {
			t.Fatalf("CreatePermission() error = %v, want 400 Bad role.", err)
		}
		if errors.Is(err, mirror.ErrRemoteNotFound) {
			t.Error("400 must not match ErrRemoteNotFound")
		}
	})

	t.Run("cancelled context sends nothing", func(t *testing.T) {
		var calls atomic.Int32
		d := newTestGoogleDrive(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := d.ListFiles(ctx, "", 10); !errors.Is(err, context.Canceled) {
			t.Fatalf("ListFiles() error = %v, want context.Canceled", err)
		}
		if got := calls.Load(); got != 0 {
			t.Errorf("calls = %d, want 0", got)
		}
	})
}
