package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// PresignRequest asks the backend for a write-capable object-store URL.
type PresignRequest struct {
	EntityType string `json:"entity_type"` // "media" or "track"
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type,omitempty"`
	SizeBytes  int64  `json:"size_bytes"`
}

// PresignResponse carries the upload URL and the object key the client
// echoes back at registration time.
type PresignResponse struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

// PresignUpload obtains a presigned URL for a binary payload.
func (c *Client) PresignUpload(ctx context.Context, req *PresignRequest) (*PresignResponse, error) {
	var resp PresignResponse
	if err := c.post(ctx, "/api/uploads/presign", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadFile PUTs a local file to a presigned object-store URL.
//
// The object store is an external collaborator: no Authorization header
// is sent, the URL itself carries the write grant. A non-2xx answer is
// surfaced as an APIError so the usual classification applies.
func (c *Client) UploadFile(ctx context.Context, uploadURL, filePath, mimeType string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening upload file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.ContentLength = info.Size()
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: "object upload rejected"}
	}
	return nil
}

// RegisterMediaRequest registers an uploaded media object with the
// backend, completing the two-step media sync.
type RegisterMediaRequest struct {
	ProjectID     string `json:"project_id"`
	EntryLocalID  string `json:"entry_local_id,omitempty"`
	ObjectKey     string `json:"object_key"`
	MimeType      string `json:"mime_type,omitempty"`
	SizeBytes     int64  `json:"size_bytes"`
	ClientLocalID string `json:"client_local_id"`
}

// RegisterTrackRequest registers an uploaded GPS track object.
type RegisterTrackRequest struct {
	ProjectID     string `json:"project_id"`
	EntryLocalID  string `json:"entry_local_id,omitempty"`
	ObjectKey     string `json:"object_key"`
	SizeBytes     int64  `json:"size_bytes"`
	PointCount    int    `json:"point_count,omitempty"`
	ClientLocalID string `json:"client_local_id"`
}

// RegisterResponse is the success body for both register calls.
type RegisterResponse struct {
	ServerID  string    `json:"server_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterMedia registers an uploaded media asset.
func (c *Client) RegisterMedia(ctx context.Context, req *RegisterMediaRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	path := fmt.Sprintf("/api/projects/%s/media", url.PathEscape(req.ProjectID))
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterTrack registers an uploaded GPS track.
func (c *Client) RegisterTrack(ctx context.Context, req *RegisterTrackRequest) (*RegisterResponse, error) {
	var resp RegisterResponse
	path := fmt.Sprintf("/api/projects/%s/tracks", url.PathEscape(req.ProjectID))
	if err := c.post(ctx, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
