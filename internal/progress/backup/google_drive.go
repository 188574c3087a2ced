package backup

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/2beens/homecoach/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const (
	folderMimeType   = "application/vnd.google-apps.folder"
	snapshotMimeType = "application/json"
)

// GoogleDriveUploader stores progress snapshots as JSON files inside one Drive folder.
type GoogleDriveUploader struct {
	service  *drive.Service
	folderID string
}

type GoogleDriveParams struct {
	FolderID string
	// Endpoint overrides the Drive API base URL, empty means the public API.
	Endpoint string
	// Auth options for the transport, e.g. option.WithCredentialsJSON.
	Auth []option.ClientOption
}

// NewGoogleDriveUploader builds a Drive client whose requests are traced.
func NewGoogleDriveUploader(ctx context.Context, params GoogleDriveParams) (*GoogleDriveUploader, error) {
	if params.FolderID == "" {
		return nil, fmt.Errorf("drive folder id empty")
	}

	transport, err := htransport.NewTransport(ctx, otelhttp.NewTransport(http.DefaultTransport), params.Auth...)
	if err != nil {
		return nil, fmt.Errorf("drive transport: %w", err)
	}

	serviceOpts := []option.ClientOption{
		option.WithHTTPClient(&http.Client{Transport: transport, Timeout: time.Minute}),
	}
	if params.Endpoint != "" {
		serviceOpts = append(serviceOpts, option.WithEndpoint(params.Endpoint))
	}

	// https://github.com/googleapis/google-api-go-client/blob/main/drive/v3/drive-gen.go
	driveService, err := drive.NewService(ctx, serviceOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve drive client: %w", err)
	}

	return &GoogleDriveUploader{
		service:  driveService,
		folderID: params.FolderID,
	}, nil
}

func NewGoogleDriveUploaderFromCredentials(ctx context.Context, folderID string, credentialsJSON []byte) (*GoogleDriveUploader, error) {
	return NewGoogleDriveUploader(ctx, GoogleDriveParams{
		FolderID: folderID,
		Auth: []option.ClientOption{
			option.WithCredentialsJSON(credentialsJSON),
			option.WithScopes(drive.DriveFileScope),
		},
	})
}

func (u *GoogleDriveUploader) Upload(ctx context.Context, name string, data []byte) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "backup.drive.upload")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	fileMeta := &drive.File{
		Name:     name,
		MimeType: snapshotMimeType,
		Parents:  []string{u.folderID},
	}

	created, err := u.service.
		Files.Create(fileMeta).
		Fields("id, name, parents").
		Media(bytes.NewReader(data)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create drive file %s: %w", name, err)
	}

	log.Debugf("drive backup file created: %s (%s)", created.Name, created.Id)
	return created.Id, nil
}

// List returns the snapshot files in the folder, newest first.
func (u *GoogleDriveUploader) List(ctx context.Context) ([]RemoteFile, error) {
	query := fmt.Sprintf(
		"'%s' in parents and trashed = false and mimeType != '%s' and name contains '%s'",
		u.folderID, folderMimeType, fileNamePrefix,
	)

	var files []RemoteFile
	pageToken := ""
	for {
		call := u.service.
			Files.List().
			Q(query).
			OrderBy("createdTime desc").
			Fields("nextPageToken, files(id, name, createdTime)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list drive files: %w", err)
		}

		for _, f := range res.Files {
			createdAt, err := time.Parse(time.RFC3339, f.CreatedTime)
			if err != nil {
				log.Warnf("drive file %s: parse created time [%s]: %s", f.Name, f.CreatedTime, err)
			}
			files = append(files, RemoteFile{
				ID:        f.Id,
				Name:      f.Name,
				CreatedAt: createdAt,
			})
		}

		if res.NextPageToken == "" {
			return files, nil
		}
		pageToken = res.NextPageToken
	}
}

func (u *GoogleDriveUploader) Delete(ctx context.Context, id string) error {
	if err := u.service.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete drive file %s: %w", id, err)
	}
	return nil
}
