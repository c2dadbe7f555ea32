package analysis

import (
	"context"
	"log/slog"

	"recite/internal/faults"
	"recite/internal/logging"
)

// Tier is one rung of the fallback ladder. Every tier produces the same
// contract; the chain is otherwise tier-agnostic.
type Tier interface {
	Name() string
	Analyze(ctx context.Context, payload []byte) (Analysis, error)
}

// Chain tries tiers in order until one succeeds. Only the last tier's
// failure propagates.
type Chain struct {
	tiers  []Tier
	logger *slog.Logger
}

// NewChain builds the standard ladder: worker decode, caller decode with
// worker math, fully inline. A nil worker leaves only the inline tier.
func NewChain(worker *Worker, logger *slog.Logger) *Chain {
	chain := &Chain{logger: logging.NewComponentLogger(logger, "analysis")}
	if worker != nil {
		if worker.SupportsDecode() {
			chain.tiers = append(chain.tiers, workerTier{worker})
		}
		chain.tiers = append(chain.tiers, splitTier{worker})
	}
	chain.tiers = append(chain.tiers, inlineTier{})
	return chain
}

// Analyze walks the ladder. Tier failures short of the last advance to the
// next tier; expected fallback markers log at debug, anything else at warn.
func (c *Chain) Analyze(ctx context.Context, payload []byte) (Analysis, error) {
	var lastErr error
	for i, tier := range c.tiers {
		analysis, err := tier.Analyze(ctx, payload)
		if err == nil {
			if i > 0 {
				c.logger.Debug("analysis fell back",
					logging.String("tier", tier.Name()),
					logging.Int("attempts", i+1))
			}
			return analysis, nil
		}
		if ctx.Err() != nil {
			return Analysis{}, ctx.Err()
		}
		level := slog.LevelWarn
		if faults.Recoverable(err) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "analysis tier failed",
			logging.String("tier", tier.Name()),
			logging.Error(err))
		lastErr = err
	}
	return Analysis{}, faults.Wrap(faults.ErrCaptureFailed, "analysis", "chain", "all tiers failed", lastErr)
}

type workerTier struct {
	worker *Worker
}

func (t workerTier) Name() string { return "worker-decode" }

func (t workerTier) Analyze(ctx context.Context, payload []byte) (Analysis, error) {
	return t.worker.AnalyzePayload(ctx, payload)
}

type splitTier struct {
	worker *Worker
}

func (t splitTier) Name() string { return "split-decode" }

func (t splitTier) Analyze(ctx context.Context, payload []byte) (Analysis, error) {
	channels, rate, err := decodePCM(payload)
	if err != nil {
		return Analysis{}, err
	}
	return t.worker.ProcessChannels(ctx, channels, rate)
}

type inlineTier struct{}

func (inlineTier) Name() string { return "inline" }

func (inlineTier) Analyze(_ context.Context, payload []byte) (Analysis, error) {
	channels, rate, err := decodePCM(payload)
	if err != nil {
		return Analysis{}, err
	}
	analysis, _, err := process(channels, rate)
	return analysis, err
}
