package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"recite/internal/config"
	"recite/internal/faults"
	"recite/internal/logging"
	"recite/internal/persistence"
	"recite/internal/timing"
)

const maxMultipartMemory = 64 << 20

// Server hosts the persistence and upload HTTP endpoints.
type Server struct {
	bind    string
	logger  *slog.Logger
	store   *persistence.Store
	objects *objectStore

	listener net.Listener
	server   *http.Server
}

// New opens the perspective store and wires the HTTP surface. The audio
// prober consults the local object store for managed keys and falls back to
// HTTP for absolute references.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("no api bind address configured")
	}

	objects := newObjectStore(cfg.Paths.StorageDir)
	probeTimeout := time.Duration(cfg.Server.ProbeTimeoutSeconds) * time.Second
	prober := &localProber{
		objects:  objects,
		fallback: persistence.NewHTTPProber("", probeTimeout, logger),
	}

	store, err := persistence.Open(cfg, prober, logger)
	if err != nil {
		return nil, fmt.Errorf("open perspective store: %w", err)
	}

	srv := &Server{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "server"),
		store:   store,
		objects: objects,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/perspectives", srv.handleCreatePerspective)
	mux.HandleFunc("POST /api/perspectives/{id}/timings", srv.handleSaveTimings)
	mux.HandleFunc("GET /api/perspectives/{id}", srv.handleGetPerspective)
	mux.HandleFunc("POST /api/uploads", srv.handleUploadTarget)
	mux.HandleFunc("POST /api/uploads/multipart", srv.handleMultipartUpload)
	mux.HandleFunc("PUT /objects/{key}", srv.handlePutObject)
	mux.HandleFunc("GET /objects/{key}", srv.handleGetObject)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Handler exposes the routed mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down and closes the store.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	_ = s.store.Close()
}

type createPerspectiveRequest struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
	Token string `json:"token"`
}

func (s *Server) handleCreatePerspective(w http.ResponseWriter, r *http.Request) {
	var req createPerspectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		s.writeError(w, http.StatusBadRequest, "perspective id required")
		return
	}
	if err := s.store.CreatePerspective(r.Context(), req.ID, req.Scope, req.Token); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

type saveTimingsRequest struct {
	Timings timing.Entries `json:"timings"`
	// AudioSrc distinguishes absent (unchanged) from empty or set; ClearAudio
	// wins over both.
	AudioSrc   *string  `json:"audioSrc"`
	ClearAudio bool     `json:"clearAudio"`
	Duration   *float64 `json:"duration"`
	Token      string   `json:"token"`
}

func (s *Server) handleSaveTimings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req saveTimingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	audio := persistence.AudioUnchanged()
	switch {
	case req.ClearAudio:
		audio = persistence.AudioClear()
	case req.AudioSrc != nil:
		audio = persistence.AudioSet(*req.AudioSrc)
	}

	result, err := s.store.Save(r.Context(), persistence.SaveRequest{
		PerspectiveID: id,
		Timings:       req.Timings,
		Audio:         audio,
		Duration:      req.Duration,
		Token:         firstNonEmpty(bearerToken(r), req.Token),
	})
	if err != nil {
		s.writePersistError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPerspective(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Get(r.Context(), r.PathValue("id"), bearerToken(r))
	if err != nil {
		s.writePersistError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type uploadTargetRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type uploadTargetResponse struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

func (s *Server) handleUploadTarget(w http.ResponseWriter, r *http.Request) {
	var req uploadTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := newObjectKey(req.Filename)
	s.writeJSON(w, http.StatusCreated, uploadTargetResponse{
		Key:       key,
		UploadURL: objectURL(r, key),
		PublicURL: objectURL(r, key),
	})
}

func (s *Server) handleMultipartUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer file.Close()

	contentType := r.FormValue("contentType")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}

	key := newObjectKey(header.Filename)
	if err := s.objects.put(key, contentType, file); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("object stored",
		logging.String("key", key),
		logging.Int64("bytes", header.Size),
		logging.String("via", "multipart"))
	s.writeJSON(w, http.StatusCreated, uploadTargetResponse{
		Key:       key,
		PublicURL: objectURL(r, key),
	})
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !validKey(key) {
		s.writeError(w, http.StatusBadRequest, "invalid object key")
		return
	}
	if err := s.objects.put(key, r.Header.Get("Content-Type"), r.Body); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("object stored",
		logging.String("key", key),
		logging.Int64("bytes", r.ContentLength),
		logging.String("via", "direct"))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	file, contentType, err := s.objects.open(key)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	defer file.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	info, err := file.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.ServeContent(w, r, key, info.ModTime(), file)
}

func (s *Server) writePersistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, faults.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "perspective not found")
	case errors.Is(err, faults.ErrPersistUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "missing or invalid token")
	case errors.Is(err, faults.ErrPersistAudioRef):
		s.writeError(w, http.StatusUnprocessableEntity, "audio reference not retrievable")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// localProber resolves managed keys against the object store and defers
// absolute references to an HTTP probe.
type localProber struct {
	objects  *objectStore
	fallback *persistence.HTTPProber
}

func (p *localProber) Exists(ctx context.Context, ref string) bool {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return p.fallback.Exists(ctx, ref)
	}
	key := strings.TrimPrefix(strings.TrimPrefix(ref, "/"), "objects/")
	return p.objects.exists(key)
}

// newObjectKey mints a unique key, keeping a recognizable extension from the
// original filename when it is safe.
func newObjectKey(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 8 || !keyPattern.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return uuid.NewString() + ext
}

func objectURL(r *http.Request, key string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/objects/%s", scheme, r.Host, key)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
