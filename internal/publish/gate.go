package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "promobot/pkg/logx"
)

// GateConfig sizes the pacing policy. MinInterval is the self-imposed
// floor between consecutive posts, chosen so total daily attempts stay
// under the provider's per-day ceiling when spread across active hours.
// ResetFallback is used when a provider rate-limit signal carries no
// retry-after hint.
type GateConfig struct {
	MinInterval    time.Duration
	ResetFallback  time.Duration
	PublishTimeout time.Duration
}

func (c GateConfig) withDefaults() GateConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 45 * time.Minute
	}
	if c.ResetFallback <= 0 {
		c.ResetFallback = 15 * time.Minute
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	return c
}

// MarkStore persists the last-post instant so pacing survives restarts.
type MarkStore interface {
	PublishMark(ctx context.Context) (time.Time, error)
	SavePublishMark(ctx context.Context, at time.Time) error
}

// Gate wraps the Publisher with pacing. It owns the shared mutable
// pacing state (last post time, provider reset time) behind a mutex
// that is held across the provider call, so a manual test-post and a
// scheduled attempt can never both pass the pacing check.
type Gate struct {
	mu  sync.Mutex
	cfg GateConfig
	pub Publisher
	log logx.Logger

	marks MarkStore // optional
	now   func() time.Time

	lastPost time.Time
	resetAt  time.Time
}

func NewGate(cfg GateConfig, pub Publisher, marks MarkStore, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{
		cfg:   cfg.withDefaults(),
		pub:   pub,
		log:   log,
		marks: marks,
		now:   time.Now,
	}
	if marks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if at, err := marks.PublishMark(ctx); err != nil {
			log.Warn("publish mark load failed", logx.Err(err))
		} else {
			g.lastPost = at
		}
	}
	return g
}

// SetClock replaces the time source. Test hook.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Apply updates the pacing knobs at runtime.
func (g *Gate) Apply(cfg GateConfig) {
	g.mu.Lock()
	g.cfg = cfg.withDefaults()
	g.mu.Unlock()
}

// State reports the pacing bookkeeping for the dashboard.
func (g *Gate) State() (lastPost, resetAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPost, g.resetAt
}

// Publish sends text through the pacing policy.
//
//   - Within MinInterval of the previous success, or before a pending
//     provider reset: returns *RateLimitedError without contacting the
//     provider.
//   - Provider rate-limit signal: records the reset instant and returns
//     *RateLimitedError.
//   - Success: records the new last-post instant (durably, best-effort)
//     and clears any pending reset.
func (g *Gate) Publish(ctx context.Context, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if g.resetAt.After(now) {
		wait := g.resetAt.Sub(now)
		g.log.Info("publish blocked by provider reset", logx.Duration("retry_in", wait))
		return "", &RateLimitedError{RetryAfter: wait}
	}
	if !g.lastPost.IsZero() {
		if elapsed := now.Sub(g.lastPost); elapsed < g.cfg.MinInterval {
			wait := g.cfg.MinInterval - elapsed
			g.log.Info("publish blocked by pacing floor",
				logx.Duration("since_last", elapsed),
				logx.Duration("retry_in", wait))
			return "", &RateLimitedError{RetryAfter: wait}
		}
	}

	g.log.Info("publishing", logx.String("preview", preview(text)))

	pctx, cancel := context.WithTimeout(ctx, g.cfg.PublishTimeout)
	defer cancel()

	id, err := g.pub.Publish(pctx, text)
	if err != nil {
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			retry := rl.RetryAfter
			if retry <= 0 {
				retry = g.cfg.ResetFallback
			}
			g.resetAt = now.Add(retry)
			g.log.Warn("provider rate limit hit",
				logx.Duration("retry_in", retry),
				logx.Time("reset_at", g.resetAt))
			return "", &RateLimitedError{RetryAfter: retry}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ProviderError{Message: "publish timed out after " + g.cfg.PublishTimeout.String()}
		}
		g.log.Warn("publish failed", logx.String("preview", preview(text)), logx.Err(err))
		return "", err
	}

	g.lastPost = now
	g.resetAt = time.Time{}
	if g.marks != nil {
		if err := g.marks.SavePublishMark(ctx, now); err != nil {
			g.log.Warn("publish mark save failed", logx.Err(err))
		}
	}
	g.log.Info("published", logx.String("post_id", id), logx.String("preview", preview(text)))
	return id, nil
}

const previewLen = 40

// preview truncates text for log lines. Full promo texts can be long
// and are already stored; logs only need enough to identify the item.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
