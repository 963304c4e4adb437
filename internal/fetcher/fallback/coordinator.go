// Package fallback wraps the bounded fetcher with an escalation policy for a
// heavier fetch strategy.
package fallback

import (
	"context"

	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// Coordinator tries the primary fetcher first and escalates eligible
// failures to the fallback strategy. It never retries the same strategy
// twice; whole-job retry with backoff belongs to the retry scheduler.
type Coordinator struct {
	primary  knowledge.Fetcher
	fallback knowledge.Fetcher
	enabled  bool
	logger   *zap.Logger
}

// New builds a Coordinator. A nil fallback (or enabled=false) disables
// escalation entirely and primary failures propagate unchanged.
func New(primary knowledge.Fetcher, fb knowledge.Fetcher, enabled bool, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		primary:  primary,
		fallback: fb,
		enabled:  enabled && fb != nil,
		logger:   logger,
	}
}

// Fetch runs the primary strategy, consulting the error kind on failure.
// SizeLimitExceeded is never escalated: the fallback strategy would fetch
// the same oversized payload again.
func (c *Coordinator) Fetch(ctx context.Context, url string) (knowledge.FetchResult, error) {
	res, err := c.primary.Fetch(ctx, url)
	if err == nil {
		return res, nil
	}
	if !c.escalatable(err) {
		return knowledge.FetchResult{}, err
	}

	c.logger.Info("escalating to fallback fetch",
		zap.String("url", url),
		zap.String("kind", string(knowledge.KindOf(err))),
	)
	fbRes, fbErr := c.fallback.Fetch(ctx, url)
	if fbErr != nil {
		c.logger.Warn("fallback fetch failed",
			zap.String("url", url),
			zap.Error(fbErr),
		)
		return knowledge.FetchResult{}, fbErr
	}
	return fbRes, nil
}

func (c *Coordinator) escalatable(err error) bool {
	if !c.enabled {
		return false
	}
	return knowledge.KindOf(err) != knowledge.KindSizeLimitExceeded
}
