package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/ipdocket/internal/google"
	"github.com/teemow/ipdocket/internal/instrumentation"
)

const (
	// FolderMimeType is the MIME type for Google Drive folders
	FolderMimeType = "application/vnd.google-apps.folder"

	fileFields = "id, name, mimeType, size, createdTime, webViewLink, parents, trashed"
)

// Client wraps the Google Drive API service
type Client struct {
	service *drive.Service
	metrics *instrumentation.Metrics
}

// NewClientForAccountWithProvider creates a Drive client for account using
// tokens from provider.
func NewClientForAccountWithProvider(ctx context.Context, account string, provider google.TokenProvider, metrics *instrumentation.Metrics) (*Client, error) {
	httpClient, err := google.HTTPClient(ctx, provider, account)
	if err != nil {
		return nil, fmt.Errorf("no valid Google OAuth token found for account %s. Please authorize access first: %w", account, err)
	}
	return NewClientWithHTTPClient(ctx, httpClient, metrics)
}

// NewClientWithHTTPClient creates a Drive client on an authenticated HTTP client.
func NewClientWithHTTPClient(ctx context.Context, httpClient *http.Client, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{
		service: driveService,
		metrics: metrics,
	}, nil
}

func (c *Client) record(ctx context.Context, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceDrive, operation, status, time.Since(start))
}

// UploadFile uploads a file to Google Drive
func (c *Client) UploadFile(ctx context.Context, name string, content io.Reader, options *UploadOptions) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if content == nil {
		return nil, fmt.Errorf("file content is required")
	}

	file := &drive.File{Name: name}
	if options != nil {
		file.Parents = options.ParentFolders
		file.Description = options.Description
		file.MimeType = options.MimeType
	}

	start := time.Now()
	driveFile, err := c.service.Files.Create(file).
		Context(ctx).
		Media(content, googleapi.ContentType(file.MimeType)).
		Fields(fileFields).
		Do()
	c.record(ctx, instrumentation.OperationCreate, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}

	return convertToFileInfo(driveFile), nil
}

// GetFile retrieves metadata for a file
func (c *Client) GetFile(ctx context.Context, fileID string) (*FileInfo, error) {
	if fileID == "" {
		return nil, fmt.Errorf("fileID is required")
	}

	start := time.Now()
	f, err := c.service.Files.Get(fileID).Context(ctx).Fields(fileFields).Do()
	c.record(ctx, instrumentation.OperationGet, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", fileID, err)
	}

	return convertToFileInfo(f), nil
}

// DeleteFile permanently deletes a file. A file that is already gone counts
// as deleted.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	if fileID == "" {
		return fmt.Errorf("fileID is required")
	}

	start := time.Now()
	err := c.service.Files.Delete(fileID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		err = nil
	}
	c.record(ctx, instrumentation.OperationDelete, start, err)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileID, err)
	}

	return nil
}

// CreateFolder creates a new folder in Google Drive
func (c *Client) CreateFolder(ctx context.Context, name string, parentFolders []string) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}

	folder := &drive.File{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  parentFolders,
	}

	start := time.Now()
	created, err := c.service.Files.Create(folder).Context(ctx).Fields(fileFields).Do()
	c.record(ctx, instrumentation.OperationCreate, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	return convertToFileInfo(created), nil
}

// FindFolder returns the first untrashed folder called name, or nil when
// there is none. A non-empty parent limits the search to that folder.
func (c *Client) FindFolder(ctx context.Context, name, parent string) (*FileInfo, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name is required")
	}

	query := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", FolderMimeType, escapeQuery(name))
	if parent != "" {
		query += fmt.Sprintf(" and '%s' in parents", escapeQuery(parent))
	}

	start := time.Now()
	list, err := c.service.Files.List().
		Context(ctx).
		Q(query).
		PageSize(1).
		Fields("files(" + fileFields + ")").
		Do()
	c.record(ctx, instrumentation.OperationList, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to search folder %q: %w", name, err)
	}
	if len(list.Files) == 0 {
		return nil, nil
	}
	return convertToFileInfo(list.Files[0]), nil
}

// escapeQuery quotes a string literal for the Drive search language.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
