package backup_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2beens/homecoach/internal/progress/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mutex    sync.Mutex
	uploads  []string
	deleted  []string
	listQ    string
	pages    []string
	failList bool
}

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		d.uploads = append(d.uploads, string(body))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "file-1",
			"name":    "homecoach-progress-2024-03-10T210500Z.json",
			"parents": []string{"folder-1"},
		})
	case http.MethodGet:
		if d.failList {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"forbidden"}}`))
			return
		}
		d.listQ = r.URL.Query().Get("q")
		pageToken := r.URL.Query().Get("pageToken")
		d.pages = append(d.pages, pageToken)
		if pageToken == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "page-2",
				"files": []map[string]string{
					{"id": "file-2", "name": "homecoach-progress-2024-03-10T210500Z.json", "createdTime": "2024-03-10T21:05:00Z"},
				},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{
				{"id": "file-1", "name": "homecoach-progress-2024-03-09T210500Z.json", "createdTime": "2024-03-09T21:05:00Z"},
			},
		})
	case http.MethodDelete:
		d.deleted = append(d.deleted, r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:])
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestUploader(t *testing.T, fake *fakeDrive) *backup.GoogleDriveUploader {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(func() {
		server.Close()
		http.DefaultTransport.(*http.Transport).CloseIdleConnections()
	})

	uploader, err := backup.NewGoogleDriveUploader(context.Background(), backup.GoogleDriveParams{
		FolderID: "folder-1",
		Endpoint: server.URL + "/",
		Auth:     []option.ClientOption{option.WithoutAuthentication()},
	})
	require.NoError(t, err)
	return uploader
}

func TestGoogleDriveUploader(t *testing.T) {
	fake := &fakeDrive{}
	uploader := newTestUploader(t, fake)
	ctx := context.Background()

	id, err := uploader.Upload(ctx, "homecoach-progress-2024-03-10T210500Z.json", []byte(`{"schemaVersion":2}`))
	require.NoError(t, err)
	assert.Equal(t, "file-1", id)
	require.Len(t, fake.uploads, 1)
	assert.Contains(t, fake.uploads[0], `{"schemaVersion":2}`)
	assert.Contains(t, fake.uploads[0], "folder-1")

	files, err := uploader.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "file-2", files[0].ID)
	assert.Equal(t, "file-1", files[1].ID)
	assert.Equal(t, time.Date(2024, 3, 10, 21, 5, 0, 0, time.UTC), files[0].CreatedAt)
	assert.Contains(t, fake.listQ, "'folder-1' in parents")
	assert.Contains(t, fake.listQ, "name contains 'homecoach-progress-'")
	assert.Equal(t, []string{"", "page-2"}, fake.pages)

	require.NoError(t, uploader.Delete(ctx, "file-1"))
	assert.Equal(t, []string{"file-1"}, fake.deleted)
}

func TestGoogleDriveUploader_ListError(t *testing.T) {
	uploader := newTestUploader(t, &fakeDrive{failList: true})

	_, err := uploader.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list drive files")
}

func TestNewGoogleDriveUploader_NoFolder(t *testing.T) {
	_, err := backup.NewGoogleDriveUploader(context.Background(), backup.GoogleDriveParams{})
	require.Error(t, err)
}
