package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"drivemirror/internal/mirror"
)

const (
	// Scope grants read and write access to every file the account can see.
	Scope = drivev3.DriveScope

	listFields = "nextPageToken, files(id, name, driveId, kind, mimeType, parents, owners, permissions)"
)

// GoogleOptions tune a GoogleDrive. Zero values select defaults.
type GoogleOptions struct {
	Endpoint          string  // overrides the Drive v3 base URL
	RequestsPerSecond float64 // <= 0 disables throttling
	Burst             int
	Logger            mirror.Logger
}

// GoogleDrive reads and shares files through the Drive v3 API.
type GoogleDrive struct {
	svc     *drivev3.Service
	limiter *rate.Limiter
	logger  mirror.Logger
}

// NewGoogleDrive builds a Drive service on an authorized HTTP client.
func NewGoogleDrive(ctx context.Context, client *http.Client, opts GoogleOptions) (*GoogleDrive, error) {
	svcOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(strings.TrimSuffix(opts.Endpoint, "/")+"/"))
	}
	svc, err := drivev3.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = mirror.NewNopLogger()
	}
	return &GoogleDrive{
		svc:     svc,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// NewGoogleDriveFromCredentials authorizes with a service account key.
// A non-empty subject impersonates that user through domain-wide delegation.
func NewGoogleDriveFromCredentials(ctx context.Context, credentialsJSON []byte, subject string, opts GoogleOptions) (*GoogleDrive, error) {
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, Scope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	cfg.Subject = subject
	return NewGoogleDrive(ctx, cfg.Client(ctx), opts)
}

func (d *GoogleDrive) ListFiles(ctx context.Context, pageToken string, pageSize int) (*mirror.FilePage, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	call := d.svc.Files.List().
		Context(ctx).
		Corpora("allDrives").
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Fields(listFields)
	if pageSize > 0 {
		call = call.PageSize(int64(pageSize))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", remoteError(err))
	}
	page := &mirror.FilePage{NextPageToken: list.NextPageToken, Files: make([]*mirror.File, len(list.Files))}
	for i, f := range list.Files {
		page.Files[i] = fromAPIFile(f)
	}
	d.logger.Debug("listed drive page", "files", len(page.Files), "more", page.NextPageToken != "")
	return page, nil
}

func (d *GoogleDrive) CreatePermission(ctx context.Context, fileID string, req mirror.PermissionRequest) (*mirror.Permission, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	call := d.svc.Permissions.Create(fileID, &drivev3.Permission{
		Role:         string(req.Role),
		Type:         string(req.Type),
		EmailAddress: req.EmailAddress,
		Domain:       req.Domain,
	}).
		Context(ctx).
		SupportsAllDrives(true).
		Fields("*")
	if req.Type == mirror.GranteeUser || req.Type == mirror.GranteeGroup {
		call = call.SendNotificationEmail(false)
	}

	created, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("creating permission on %s: %w", fileID, remoteError(err))
	}
	perm := fromAPIPermission(created, fileID)
	return &perm, nil
}

func (d *GoogleDrive) DeletePermission(ctx context.Context, fileID, permissionID string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	err := d.svc.Permissions.Delete(fileID, permissionID).
		Context(ctx).
		SupportsAllDrives(true).
		Do()
	if err != nil {
		return fmt.Errorf("deleting permission %s on %s: %w", permissionID, fileID, remoteError(err))
	}
	return nil
}

// remoteError makes a 404 from the API match mirror.ErrRemoteNotFound while
// keeping the *googleapi.Error reachable through errors.As.
func remoteError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", mirror.ErrRemoteNotFound, err)
	}
	return err
}

func fromAPIPermission(p *drivev3.Permission, fileID string) mirror.Permission {
	return mirror.Permission{
		ID:             p.Id,
		FileID:         fileID,
		Type:           mirror.GranteeType(p.Type),
		Role:           mirror.Role(p.Role),
		Domain:         p.Domain,
		ExpirationDate: p.ExpirationTime,
		Deleted:        p.Deleted,
		PendingOwner:   p.PendingOwner,
		User: mirror.User{
			EmailAddress: p.EmailAddress,
			DisplayName:  p.DisplayName,
			PhotoLink:    p.PhotoLink,
		},
	}
}

func fromAPIFile(f *drivev3.File) *mirror.File {
	file := &mirror.File{
		ID:          f.Id,
		Kind:        f.Kind,
		Name:        f.Name,
		MimeType:    f.MimeType,
		Parents:     f.Parents,
		Owners:      make([]mirror.User, 0, len(f.Owners)),
		Permissions: make([]mirror.Permission, 0, len(f.Permissions)),
	}
	for _, o := range f.Owners {
		if o != nil {
			file.Owners = append(file.Owners, mirror.User{EmailAddress: o.EmailAddress, DisplayName: o.DisplayName, PhotoLink: o.PhotoLink})
		}
	}
	for _, p := range f.Permissions {
		if p != nil {
			file.Permissions = append(file.Permissions, fromAPIPermission(p, f.Id))
		}
	}
	return file
}

var _ mirror.Drive = (*GoogleDrive)(nil)
