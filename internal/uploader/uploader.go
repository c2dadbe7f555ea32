package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
)

// Result identifies the stored object after a successful upload.
type Result struct {
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl,omitempty"`
}

// uploadTarget is the server's answer to a direct-upload request.
type uploadTarget struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl,omitempty"`
}

// Uploader sends payloads to the configured server.
type Uploader struct {
	baseURL string
	direct  bool
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// New builds an uploader from the upload configuration.
func New(cfg *config.Config, logger *slog.Logger) *Uploader {
	timeout := time.Duration(cfg.Upload.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Uploader{
		baseURL: cfg.Upload.BaseURL,
		direct:  cfg.Upload.Direct,
		token:   cfg.Upload.Token,
		client:  &http.Client{Timeout: timeout},
		logger:  logging.NewComponentLogger(logger, "uploader"),
	}
}

// Upload stores the payload. The direct path is tried first when eligible;
// any direct failure falls back to one multipart submission. Context
// cancellation surfaces as faults.ErrUploadAborted.
func (u *Uploader) Upload(ctx context.Context, filename, contentType string, payload []byte) (Result, error) {
	if u.baseURL == "" {
		return Result{}, faults.Wrap(faults.ErrUploadFailed, "uploader", "upload",
			"no upload base URL configured", nil)
	}

	if u.direct {
		result, err := u.uploadDirect(ctx, filename, contentType, payload)
		if err == nil {
			return result, nil
		}
		if faults.Aborted(err) {
			return Result{}, faults.Wrap(faults.ErrUploadAborted, "uploader", "direct", "upload aborted", err)
		}
		u.logger.Warn("direct upload failed, using multipart fallback", logging.Error(err))
	}

	result, err := u.uploadMultipart(ctx, filename, contentType, payload)
	if err == nil {
		return result, nil
	}
	if faults.Aborted(err) {
		return Result{}, faults.Wrap(faults.ErrUploadAborted, "uploader", "multipart", "upload aborted", err)
	}
	return Result{}, faults.Wrap(faults.ErrUploadFailed, "uploader", "multipart", "upload failed", err)
}

// uploadDirect performs the two-step path: request a target, then PUT the
// payload to the returned URL.
func (u *Uploader) uploadDirect(ctx context.Context, filename, contentType string, payload []byte) (Result, error) {
	reqBody, err := json.Marshal(map[string]string{
		"filename":    filename,
		"contentType": contentType,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/uploads", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	u.authorize(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Result{}, fmt.Errorf("upload target request: %s", resp.Status)
	}

	var target uploadTarget
	if err := json.NewDecoder(resp.Body).Decode(&target); err != nil {
		return Result{}, fmt.Errorf("decode upload target: %w", err)
	}
	if target.UploadURL == "" || target.Key == "" {
		return Result{}, fmt.Errorf("upload target incomplete: key=%q url=%q", target.Key, target.UploadURL)
	}

	put, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build put request: %w", err)
	}
	put.Header.Set("Content-Type", contentType)
	put.ContentLength = int64(len(payload))

	putResp, err := u.client.Do(put)
	if err != nil {
		return Result{}, err
	}
	defer putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("put payload: %s", putResp.Status)
	}

	return Result{Key: target.Key, PublicURL: target.PublicURL}, nil
}

// uploadMultipart submits the payload as one multipart form.
func (u *Uploader) uploadMultipart(ctx context.Context, filename, contentType string, payload []byte) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return Result{}, fmt.Errorf("write form payload: %w", err)
	}
	if err := writer.WriteField("contentType", contentType); err != nil {
		return Result{}, fmt.Errorf("write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("close form writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/uploads/multipart", &body)
	if err != nil {
		return Result{}, fmt.Errorf("build multipart request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	u.authorize(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("multipart upload: %s: %s", resp.Status, data)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode multipart response: %w", err)
	}
	if result.Key == "" {
		return Result{}, fmt.Errorf("multipart response missing key")
	}
	return result, nil
}

func (u *Uploader) authorize(req *http.Request) {
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
}
