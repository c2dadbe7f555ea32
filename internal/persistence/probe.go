package persistence

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"recite/internal/logging"
)

// Prober verifies that an audio reference points at an existing object.
type Prober interface {
	Exists(ctx context.Context, ref string) bool
}

// HTTPProber probes object existence over HTTP: HEAD first, then a one-byte
// ranged GET for servers that disallow HEAD.
type HTTPProber struct {
	// BaseURL resolves bare storage keys; absolute references are used
	// as-is.
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
}

// NewHTTPProber builds a prober with the given timeout.
func NewHTTPProber(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
		Logger:  logging.NewComponentLogger(logger, "probe"),
	}
}

// Exists reports whether the referenced object is retrievable.
func (p *HTTPProber) Exists(ctx context.Context, ref string) bool {
	url := p.resolve(ref)
	if url == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	if resp, err := p.Client.Do(req); err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
		if resp.StatusCode == http.StatusNotFound {
			return false
		}
		// HEAD disallowed or otherwise inconclusive: fall through to the
		// ranged GET.
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	get.Header.Set("Range", "bytes=0-0")
	resp, err := p.Client.Do(get)
	if err != nil {
		p.Logger.Debug("audio probe failed", logging.String("ref", ref), logging.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

func (p *HTTPProber) resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if p.BaseURL == "" {
		return ""
	}
	return p.BaseURL + "/" + strings.TrimLeft(ref, "/")
}
