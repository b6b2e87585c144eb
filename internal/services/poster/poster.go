// Package poster drives the automated posting loop. Once per tick it
// checks the campaign bounds and active hours, then hands the next due
// item to the campaign service for a pacing-checked publish attempt.
//
// The tick cadence self-adjusts to half the campaign interval (bounded
// below by a configured floor) so fast campaigns are checked often
// without busy-polling slow ones.
package poster

import (
	"context"
	"errors"
	"sync"
	"time"

	"promobot/internal/publish"
	"promobot/internal/schedule"
	"promobot/internal/services/campaign"
	"promobot/internal/services/scheduler"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

const tickJob = "poster:tick"

type Config struct {
	Enabled    bool
	CheckFloor time.Duration // minimum tick spacing; default 5m
}

func (c Config) withDefaults() Config {
	if c.CheckFloor <= 0 {
		c.CheckFloor = 5 * time.Minute
	}
	return c
}

// Campaigns is the slice of the campaign service the loop needs.
type Campaigns interface {
	Campaign(ctx context.Context) (*storage.Campaign, error)
	Window() schedule.Window
	PublishDue(ctx context.Context, now time.Time, bypassSchedule bool) (*storage.Item, error)
}

type Service struct {
	svc   Campaigns
	sched *scheduler.Service
	log   logx.Logger
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	cadence time.Duration
}

func New(cfg Config, svc Campaigns, sched *scheduler.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := sched.Location()
	return &Service{
		cfg:   cfg.withDefaults(),
		svc:   svc,
		sched: sched,
		log:   log,
		now:   func() time.Time { return time.Now().In(loc) },
	}
}

// SetClock replaces the time source. Test hook; call before Start.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Start registers the tick job. The initial cadence uses the current
// campaign interval when one exists.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		s.log.Info("poster disabled")
		return nil
	}
	return s.reschedule(ctx)
}

func (s *Service) Stop() {
	s.sched.Remove(tickJob)
}

// Apply updates the cadence floor (hot reload) and re-registers the
// tick when the effective cadence changes.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	if !cfg.Enabled {
		s.cadence = 0
		s.mu.Unlock()
		s.Stop()
		return nil
	}
	s.mu.Unlock()
	return s.reschedule(ctx)
}

// Tick is one pass of the posting state machine. It never returns an
// error for the expected idle cases (no campaign, outside hours, no
// due item); those are debug-logged no-ops.
func (s *Service) Tick(ctx context.Context) error {
	defer func() {
		if err := s.reschedule(ctx); err != nil {
			s.log.Warn("tick reschedule failed", logx.Err(err))
		}
	}()

	camp, err := s.svc.Campaign(ctx)
	if errors.Is(err, campaign.ErrNoCampaign) {
		s.log.Debug("tick: no campaign configured")
		return nil
	}
	if err != nil {
		return err
	}

	now := s.now()
	if now.Before(camp.StartAt) || now.After(camp.EndAt) {
		s.log.Debug("tick: outside campaign window",
			logx.Time("now", now),
			logx.Time("start", camp.StartAt),
			logx.Time("end", camp.EndAt))
		return nil
	}
	if !s.svc.Window().Contains(now) {
		s.log.Debug("tick: outside active hours", logx.Time("now", now))
		return nil
	}

	item, err := s.svc.PublishDue(ctx, now, false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, campaign.ErrNoneEligible):
		s.log.Debug("tick: no eligible items")
		return nil
	case errors.Is(err, campaign.ErrNotDue):
		if item != nil && item.ScheduledAt != nil {
			s.log.Debug("tick: next item not due",
				logx.Int64("item", item.ID),
				logx.Time("due_at", *item.ScheduledAt))
		}
		return nil
	default:
		var rl *publish.RateLimitedError
		if errors.As(err, &rl) {
			// Not a permanent failure; the item stays eligible.
			s.log.Info("tick: rate limited", logx.Duration("retry_in", rl.RetryAfter))
			return nil
		}
		// ProviderError and friends: already recorded on the item.
		return err
	}
}

// reschedule recomputes the desired cadence, max(floor, interval/2),
// and upserts the tick job when it changed.
func (s *Service) reschedule(ctx context.Context) error {
	s.mu.Lock()
	desired := s.cfg.CheckFloor
	s.mu.Unlock()
	if camp, err := s.svc.Campaign(ctx); err == nil {
		if half := camp.Interval / 2; half > desired {
			desired = half
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if desired == s.cadence {
		return nil
	}
	if err := s.sched.UpsertEvery(tickJob, desired, desired, s.Tick); err != nil {
		return err
	}
	s.cadence = desired
	s.log.Info("poster cadence set", logx.Duration("every", desired))
	return nil
}
