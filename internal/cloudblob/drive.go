package cloudblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"flashrevise/api/internal/syncer"
)

const jsonMime = "application/json"

// DriveStore keeps blobs in Google Drive, inside the files the app itself
// created (drive.file scope).
type DriveStore struct {
	service func(ctx context.Context) (*drive.Service, error)
}

// NewDriveStore uses a fixed service, as tests and service accounts do.
func NewDriveStore(svc *drive.Service) *DriveStore {
	return &DriveStore{service: func(context.Context) (*drive.Service, error) { return svc, nil }}
}

// NewAuthorizedDriveStore builds a service from auth's current token on
// every call, so it starts working as soon as the user completes consent.
func NewAuthorizedDriveStore(auth *DriveAuth, opts ...option.ClientOption) *DriveStore {
	return &DriveStore{service: func(ctx context.Context) (*drive.Service, error) {
		ts, err := auth.TokenSource()
		if err != nil {
			return nil, err
		}
		svc, err := drive.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
		if err != nil {
			return nil, fmt.Errorf("create drive service: %w", err)
		}
		return svc, nil
	}}
}

func (d *DriveStore) Find(ctx context.Context, name string) (string, error) {
	svc, err := d.service(ctx)
	if err != nil {
		return "", err
	}
	list, err := svc.Files.List().
		Q(fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(name))).
		Spaces("drive").
		Fields("files(id, name)").
		Context(ctx).
		Do()
	if err != nil {
		return "", driveError(err)
	}
	for _, f := range list.Files {
		if f.Name == name {
			return f.Id, nil
		}
	}
	return "", nil
}

func (d *DriveStore) Create(ctx context.Context, name string, content []byte) (string, error) {
	svc, err := d.service(ctx)
	if err != nil {
		return "", err
	}
	f, err := svc.Files.Create(&drive.File{Name: name, MimeType: jsonMime}).
		Media(bytes.NewReader(content), googleapi.ContentType(jsonMime)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", driveError(err)
	}
	return f.Id, nil
}

func (d *DriveStore) Update(ctx context.Context, id string, content []byte) error {
	svc, err := d.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(jsonMime)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return driveError(err)
	}
	return nil
}

func (d *DriveStore) Download(ctx context.Context, id string) ([]byte, error) {
	svc, err := d.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, driveError(err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read drive file: %v", syncer.ErrTransport, err)
	}
	return content, nil
}

func escapeQuery(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

func driveError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", syncer.ErrNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", syncer.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", syncer.ErrTransport, err)
}
