package drive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClientWithHTTPClient(context.Background(), srv.Client(), nil, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestConvertToFileInfo(t *testing.T) {
	info := convertToFileInfo(&drive.File{
		Id:          "f1",
		Name:        "notice.txt",
		MimeType:    "text/plain",
		Size:        12,
		CreatedTime: "2026-01-02T03:04:05Z",
		Parents:     []string{"folder"},
	})
	assert.Equal(t, "f1", info.ID)
	assert.Equal(t, "notice.txt", info.Name)
	assert.Equal(t, int64(12), info.Size)
	assert.Equal(t, 2026, info.CreatedTime.Year())
	assert.Equal(t, []string{"folder"}, info.Parents)
}

func TestClient_UploadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/upload/drive/v3/files")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"file-1","name":"notice.txt","mimeType":"text/plain"}`))
	})

	info, err := client.UploadFile(context.Background(), "notice.txt", strings.NewReader("hello"), &UploadOptions{MimeType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "file-1", info.ID)
}

func TestClient_UploadFile_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.UploadFile(context.Background(), "", strings.NewReader("x"), nil)
	assert.Error(t, err)
	_, err = client.UploadFile(context.Background(), "name", nil, nil)
	assert.Error(t, err)
	assert.Error(t, client.DeleteFile(context.Background(), ""))
}

func TestClient_DeleteFile(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already gone", status: http.StatusNotFound},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.True(t, strings.HasSuffix(r.URL.Path, "/files/file-1"), r.URL.Path)
				if tt.status >= 400 {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(`{"error":{"message":"x"}}`))
					return
				}
				w.WriteHeader(tt.status)
			})

			err := client.DeleteFile(context.Background(), "file-1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClient_FindFolder(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(gotQuery, "name='case-1'") {
			_, _ = w.Write([]byte(`{"files":[{"id":"folder-1","name":"case-1","mimeType":"` + FolderMimeType + `"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"files":[]}`))
	})
	ctx := context.Background()

	info, err := client.FindFolder(ctx, "case-1", "root-folder")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "folder-1", info.ID)
	assert.Contains(t, gotQuery, "mimeType='"+FolderMimeType+"'")
	assert.Contains(t, gotQuery, "trashed=false")
	assert.Contains(t, gotQuery, "'root-folder' in parents")

	info, err = client.FindFolder(ctx, "O'Brien", "")
	require.NoError(t, err)
	assert.Nil(t, info)
	assert.Contains(t, gotQuery, `name='O\'Brien'`)
	assert.NotContains(t, gotQuery, "in parents")

	_, err = client.FindFolder(ctx, "", "")
	assert.Error(t, err)
}

func TestClient_GetFileAndCreateFolder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			assert.True(t, strings.HasSuffix(r.URL.Path, "/files/folder-1"), r.URL.Path)
			_, _ = w.Write([]byte(`{"id":"folder-1","mimeType":"` + FolderMimeType + `","trashed":true}`))
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"folder-2","name":"case-2","mimeType":"` + FolderMimeType + `"}`))
		}
	})
	ctx := context.Background()

	info, err := client.GetFile(ctx, "folder-1")
	require.NoError(t, err)
	assert.True(t, info.Trashed)

	created, err := client.CreateFolder(ctx, "case-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "folder-2", created.ID)
	assert.Equal(t, FolderMimeType, created.MimeType)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `a\'b\\c`, escapeQuery(`a'b\c`))
}
