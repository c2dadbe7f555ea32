package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"recite/internal/faults"
)

// Client persists timings against a remote recite server, mirroring the
// Store.Save contract over HTTP.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type saveWire struct {
	Timings  any      `json:"timings"`
	AudioSrc *string  `json:"audioSrc,omitempty"`
	Clear    bool     `json:"clearAudio,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
}

// Save submits the request to the server and maps HTTP statuses back onto
// the store's error sentinels.
func (c *Client) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	wire := saveWire{
		Timings:  req.Timings,
		Duration: req.Duration,
	}
	switch req.Audio.kind {
	case audioClear:
		wire.Clear = true
	case audioSet:
		value := req.Audio.value
		wire.AudioSrc = &value
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "client-save",
			"marshal request", err)
	}

	url := c.baseURL + "/api/perspectives/" + req.PerspectiveID + "/timings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "client-save",
			"build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	token := req.Token
	if token == "" {
		token = c.token
	}
	if token == "" && req.TokenResolver != nil {
		if token, err = req.TokenResolver(req.PerspectiveID); err != nil {
			return SaveResult{}, faults.Wrap(faults.ErrPersistUnauthorized, "persistence", "client-save",
				"token resolution failed", err)
		}
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if faults.Aborted(err) {
			return SaveResult{}, faults.Wrap(faults.ErrUploadAborted, "persistence", "client-save",
				"save aborted", err)
		}
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "client-save",
			"request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return SaveResult{}, faults.Wrap(faults.ErrNotFound, "persistence", "client-save",
			"no perspective "+req.PerspectiveID, nil)
	case http.StatusUnauthorized:
		return SaveResult{}, faults.Wrap(faults.ErrPersistUnauthorized, "persistence", "client-save",
			"server rejected token", nil)
	case http.StatusUnprocessableEntity:
		return SaveResult{}, faults.Wrap(faults.ErrPersistAudioRef, "persistence", "client-save",
			"server rejected audio reference", nil)
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "client-save",
			fmt.Sprintf("unexpected status %s: %s", resp.Status, detail), nil)
	}

	var result SaveResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SaveResult{}, faults.Wrap(faults.ErrPersistFailed, "persistence", "client-save",
			"decode response", err)
	}
	return result, nil
}
