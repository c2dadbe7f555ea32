package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
)

func newTestUploader(baseURL string, direct bool) *Uploader {
	cfg := config.Default()
	cfg.Upload.BaseURL = baseURL
	cfg.Upload.Direct = direct
	cfg.Upload.Token = "secret"
	return New(&cfg, logging.NewNop())
}

func TestDirectUploadTwoSteps(t *testing.T) {
	payload := []byte("wav bytes")
	var putBody []byte

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["filename"] != "take.wav" || req["contentType"] != "audio/wav" {
			t.Errorf("unexpected request: %v", req)
		}
		json.NewEncoder(w).Encode(uploadTarget{
			Key:       "objects/abc",
			UploadURL: server.URL + "/objects/abc",
			PublicURL: server.URL + "/objects/abc",
		})
	})
	mux.HandleFunc("PUT /objects/abc", func(w http.ResponseWriter, r *http.Request) {
		putBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	result, err := newTestUploader(server.URL, true).Upload(context.Background(), "take.wav", "audio/wav", payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Key != "objects/abc" {
		t.Fatalf("key = %q", result.Key)
	}
	if !bytes.Equal(putBody, payload) {
		t.Fatalf("payload mismatch: %q", putBody)
	}
}

func TestDirectFailureFallsBackToMultipart(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "direct uploads disabled", http.StatusServiceUnavailable)
	})
	mux.HandleFunc("POST /api/uploads/multipart", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "take.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(Result{Key: "objects/fallback"})
	})

	result, err := newTestUploader(server.URL, true).Upload(context.Background(), "take.wav", "audio/wav", []byte("x"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Key != "objects/fallback" {
		t.Fatalf("key = %q", result.Key)
	}
}

func TestIneligibleContextSkipsDirect(t *testing.T) {
	directCalled := false
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/uploads", func(w http.ResponseWriter, r *http.Request) {
		directCalled = true
		http.Error(w, "unexpected", http.StatusTeapot)
	})
	mux.HandleFunc("POST /api/uploads/multipart", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Key: "objects/mp"})
	})

	result, err := newTestUploader(server.URL, false).Upload(context.Background(), "take.wav", "audio/wav", []byte("x"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if directCalled {
		t.Fatal("direct path must be skipped when not configured")
	}
	if result.Key != "objects/mp" {
		t.Fatalf("key = %q", result.Key)
	}
}

func TestCanceledUploadIsAbortNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "never reached", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestUploader(server.URL, true).Upload(ctx, "take.wav", "audio/wav", []byte("x"))
	if !errors.Is(err, faults.ErrUploadAborted) {
		t.Fatalf("expected upload-aborted, got %v", err)
	}
	if errors.Is(err, faults.ErrUploadFailed) {
		t.Fatal("abort must not be classified as failure")
	}
}

func TestMissingBaseURLFails(t *testing.T) {
	cfg := config.Default()
	cfg.Upload.BaseURL = ""
	u := New(&cfg, logging.NewNop())
	if _, err := u.Upload(context.Background(), "take.wav", "audio/wav", []byte("x")); !errors.Is(err, faults.ErrUploadFailed) {
		t.Fatalf("expected upload-failed, got %v", err)
	}
}
