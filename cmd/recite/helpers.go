package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"recite/internal/analysis"
	"recite/internal/config"
	"recite/internal/draftstore"
	"recite/internal/orchestrator"
	"recite/internal/pendingstore"
	"recite/internal/persistence"
	"recite/internal/runtimestate"
	"recite/internal/timing"
	"recite/internal/uploader"
)

// pipeline bundles the collaborators behind the record and commit commands.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	coord   *runtimestate.Coordinator
	pending *pendingstore.Store
	drafts  *draftstore.Store

	closers []func()
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// buildPipeline wires stores, uploader, persister, analysis, and the
// orchestrator. Persistence goes over the wire when an upload base URL is
// configured, otherwise against the local perspective database.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{}

	pending, err := pendingstore.Open(cfg)
	if err != nil {
		return nil, err
	}
	p.pending = pending
	p.closers = append(p.closers, func() { _ = pending.Close() })

	debounce := time.Duration(cfg.Drafts.DebounceMs) * time.Millisecond
	p.drafts = draftstore.New(cfg.DraftPath(), cfg.DraftFallbackPath(), debounce, logger)
	p.closers = append(p.closers, p.drafts.Close)

	persister, err := buildPersister(cfg, logger, p)
	if err != nil {
		p.close()
		return nil, err
	}

	worker := analysis.NewWorker(logger)
	p.closers = append(p.closers, worker.Close)

	nudgeStep := float64(cfg.Controller.NudgeStepMs) / 1000
	p.coord = runtimestate.New(logger, nudgeStep, runtimestate.Hooks{
		Timings: func(id string, entries timing.Entries) {
			p.drafts.Save(cfg.Drafts.Scope, id, entries)
		},
	})

	p.orch = orchestrator.New(cfg, logger, orchestrator.Deps{
		Coordinator: p.coord,
		Pending:     pending,
		Drafts: &orchestrator.DraftAccess{
			Load:   p.drafts.Load,
			Delete: p.drafts.Delete,
		},
		Uploader:  uploader.New(cfg, logger),
		Persister: persister,
		Analyzer:  analysis.NewChain(worker, logger),
	})
	return p, nil
}

func buildPersister(cfg *config.Config, logger *slog.Logger, p *pipeline) (orchestrator.Persister, error) {
	if cfg.Upload.BaseURL != "" {
		timeout := time.Duration(cfg.Upload.TimeoutSeconds) * time.Second
		return persistence.NewClient(cfg.Upload.BaseURL, cfg.Upload.Token, timeout), nil
	}

	probeTimeout := time.Duration(cfg.Server.ProbeTimeoutSeconds) * time.Second
	prober := &fileProber{
		dir:      cfg.Paths.StorageDir,
		fallback: persistence.NewHTTPProber("", probeTimeout, logger),
	}
	store, err := persistence.Open(cfg, prober, logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = store.Close() })
	return store, nil
}

// fileProber resolves managed keys against the local storage directory and
// defers absolute references to an HTTP probe.
type fileProber struct {
	dir      string
	fallback *persistence.HTTPProber
}

func (f *fileProber) Exists(ctx context.Context, ref string) bool {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.fallback.Exists(ctx, ref)
	}
	key := strings.TrimPrefix(strings.TrimPrefix(ref, "/"), "objects/")
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
		return false
	}
	info, err := os.Stat(filepath.Join(f.dir, key))
	return err == nil && !info.IsDir()
}
