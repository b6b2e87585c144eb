// Package campaign is the operational surface of the posting system:
// ingestion, skip/cancel, campaign configuration and publish attempts
// all go through one Service so a single coarse lock serializes every
// store mutation and the replanning section that follows it.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"promobot/internal/publish"
	"promobot/internal/schedule"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

// campaignHorizon bounds how far in the future a campaign may start.
const campaignHorizon = 2 * 365 * 24 * time.Hour

type Service struct {
	mu sync.Mutex

	store storage.Store
	gate  Gate
	log   logx.Logger
	loc   *time.Location

	window schedule.Window
	now    func() time.Time
}

func New(store storage.Store, gate Gate, window schedule.Window, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	if !window.Valid() {
		window = schedule.DefaultWindow()
	}
	s := &Service{store: store, gate: gate, log: log, loc: loc, window: window}
	s.now = func() time.Time { return time.Now().In(loc) }
	return s
}

// SetClock replaces the time source. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetWindow applies new active hours and replans with them.
func (s *Service) SetWindow(ctx context.Context, w schedule.Window) error {
	if !w.Valid() {
		return &ValidationError{Field: "active_hours", Reason: "empty or inverted window"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = w
	return s.replanLocked(ctx)
}

// Window returns the current active hours.
func (s *Service) Window() schedule.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Items returns a snapshot of all items, ascending by id.
func (s *Service) Items(ctx context.Context) ([]storage.Item, error) {
	return s.store.Items(ctx)
}

// ItemsByStatus filters the snapshot by posting status. "posted" sorts
// newest post first, "pending" sorts by scheduled slot (unscheduled
// last), "skipped" and "failed" keep id order. Empty status means all.
func (s *Service) ItemsByStatus(ctx context.Context, status string) ([]storage.Item, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		return nil, err
	}
	switch status {
	case "":
		return items, nil
	case "posted":
		out := filterItems(items, func(it storage.Item) bool { return it.Posted })
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].PostedAt, out[j].PostedAt
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.After(*b)
			}
		})
		return out, nil
	case "pending":
		out := filterItems(items, func(it storage.Item) bool {
			return !it.Posted && !it.Skipped && it.Error == ""
		})
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].ScheduledAt, out[j].ScheduledAt
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return a.Before(*b)
			}
		})
		return out, nil
	case "skipped":
		return filterItems(items, func(it storage.Item) bool { return it.Skipped }), nil
	case "failed":
		return filterItems(items, func(it storage.Item) bool {
			return it.Error != "" && !it.Posted && !it.Skipped
		}), nil
	default:
		return nil, &ValidationError{Field: "status", Reason: "unknown status filter"}
	}
}

func filterItems(items []storage.Item, keep func(storage.Item) bool) []storage.Item {
	out := make([]storage.Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Campaign returns the active configuration or ErrNoCampaign.
func (s *Service) Campaign(ctx context.Context) (*storage.Campaign, error) {
	c, err := s.store.Campaign(ctx)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if c == nil {
		return nil, ErrNoCampaign
	}
	return c, nil
}

// SaveCampaign validates and stores a new configuration, then replans
// every pending item under it.
func (s *Service) SaveCampaign(ctx context.Context, start, end time.Time, intervalMinutes int) (*storage.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if intervalMinutes <= 0 {
		return nil, &ValidationError{Field: "intervalMinutes", Reason: "must be positive"}
	}
	if start.IsZero() || end.IsZero() {
		return nil, &ValidationError{Field: "startTime", Reason: "start and end are required"}
	}
	if !end.After(start) {
		return nil, &ValidationError{Field: "endTime", Reason: "must be after startTime"}
	}
	if !start.After(now) {
		return nil, &ValidationError{Field: "startTime", Reason: "must be in the future"}
	}
	if start.After(now.Add(campaignHorizon)) {
		return nil, &ValidationError{Field: "startTime", Reason: "more than 2 years ahead"}
	}

	c := storage.Campaign{
		StartAt:  start.In(s.loc),
		EndAt:    end.In(s.loc),
		Interval: time.Duration(intervalMinutes) * time.Minute,
	}
	if err := s.store.SaveCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("save campaign: %w", err)
	}
	if err := s.replanLocked(ctx); err != nil {
		return nil, err
	}
	s.log.Info("campaign saved",
		logx.Time("start", c.StartAt),
		logx.Time("end", c.EndAt),
		logx.Duration("interval", c.Interval))
	return &c, nil
}

// Ingest validates the whole batch (all-or-nothing) and appends it,
// then replans so the new items get slots.
func (s *Service) Ingest(ctx context.Context, drafts []storage.Draft) ([]storage.Item, error) {
	if len(drafts) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "batch is empty"}
	}
	for i, d := range drafts {
		if err := validateDraft(i, d); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.store.Ingest(ctx, drafts)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if err := s.replanLocked(ctx); err != nil {
		return nil, err
	}
	s.log.Info("items ingested", logx.Int("count", len(added)))
	return added, nil
}

func validateDraft(i int, d storage.Draft) error {
	required := []struct {
		name  string
		value string
	}{
		{"name", d.Name},
		{"category", d.Category},
		{"location", d.Location},
		{"revenue", d.Revenue},
		{"monthlyProfit", d.MonthlyProfit},
		{"profitMargin", d.ProfitMargin},
		{"promoText", d.PromoText},
	}
	for _, f := range required {
		if f.value == "" {
			return &ValidationError{
				Field:  fmt.Sprintf("items[%d].%s", i, f.name),
				Reason: "required",
			}
		}
	}
	return nil
}

// Skip withdraws one item from scheduling and replans the rest.
func (s *Service) Skip(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.MarkSkipped(ctx, id); err != nil {
		return err
	}
	s.log.Info("item skipped", logx.Int64("item", id))
	return s.replanLocked(ctx)
}

// CancelAll skips every pending item.
func (s *Service) CancelAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.store.SkipAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel all: %w", err)
	}
	if err := s.replanLocked(ctx); err != nil {
		return n, err
	}
	s.log.Info("all pending items cancelled", logx.Int("count", n))
	return n, nil
}

// ClearErrors makes failed items eligible again. Scheduled times are
// untouched: failed items keep their slots while the error is set.
func (s *Service) ClearErrors(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.store.ClearErrors(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear errors: %w", err)
	}
	if n > 0 {
		s.log.Info("item errors cleared", logx.Int("count", n))
	}
	return n, nil
}

// PublishDue attempts the next eligible item through the gate and
// records the outcome. With bypassSchedule the scheduled-time check is
// waived (manual test-post); pacing still applies.
//
// Success and failure are exclusive outcomes of one attempt: a rate
// limit records nothing so the item stays eligible for the next tick.
func (s *Service) PublishDue(ctx context.Context, now time.Time, bypassSchedule bool) (*storage.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.store.NextDue(ctx)
	if err != nil {
		return nil, fmt.Errorf("next due: %w", err)
	}
	if item == nil {
		return nil, ErrNoneEligible
	}
	if !bypassSchedule {
		if item.ScheduledAt == nil || now.Before(*item.ScheduledAt) {
			return item, ErrNotDue
		}
	}

	_, err = s.gate.Publish(ctx, item.PromoText)
	if err != nil {
		var rl *publish.RateLimitedError
		if errors.As(err, &rl) {
			// Transient by contract: leave the item untouched.
			return item, err
		}
		if mErr := s.store.MarkFailed(ctx, item.ID, err.Error()); mErr != nil {
			s.log.Error("mark failed did not stick", logx.Int64("item", item.ID), logx.Err(mErr))
		}
		return item, err
	}

	if err := s.store.MarkPosted(ctx, item.ID, now); err != nil {
		return item, fmt.Errorf("mark posted: %w", err)
	}
	s.log.Info("item posted", logx.Int64("item", item.ID), logx.String("name", item.Name))
	updated, err := s.store.Item(ctx, item.ID)
	if err != nil {
		return item, nil
	}
	return &updated, nil
}

// TestPost publishes the earliest eligible item immediately, bypassing
// window and schedule checks but not pacing.
func (s *Service) TestPost(ctx context.Context) (*storage.Item, error) {
	return s.PublishDue(ctx, s.nowFunc()(), true)
}

func (s *Service) nowFunc() func() time.Time {
	// s.now is replaced only in tests before concurrent use; reading it
	// without the lock here would race with SetClock in -race runs.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Seed ingests a drafts file on first start when the store is empty.
func (s *Service) Seed(ctx context.Context, path string) error {
	items, err := s.store.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var drafts []storage.Draft
	if err := json.Unmarshal(b, &drafts); err != nil {
		return fmt.Errorf("decode seed file %s: %w", path, err)
	}
	added, err := s.Ingest(ctx, drafts)
	if err != nil {
		return err
	}
	s.log.Info("seeded items from file", logx.String("path", path), logx.Int("count", len(added)))
	return nil
}

// Overview summarizes item counts and the next due slot.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		return Overview{}, err
	}
	var o Overview
	o.Total = len(items)
	for _, it := range items {
		switch {
		case it.Posted:
			o.Posted++
		case it.Skipped:
			o.Skipped++
		case it.Error != "":
			o.Failed++
		default:
			o.Pending++
		}
		if it.ScheduledAt != nil && !it.Posted && !it.Skipped {
			o.Scheduled++
		}
	}
	due, err := s.store.NextDue(ctx)
	if err != nil {
		return o, err
	}
	if due != nil {
		o.NextDueID = due.ID
		o.NextDueAt = due.ScheduledAt
	}
	return o, nil
}

// replanLocked recomputes every pending item's slot under the current
// campaign and active hours. Runs with s.mu held.
func (s *Service) replanLocked(ctx context.Context) error {
	camp, err := s.store.Campaign(ctx)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if camp == nil {
		return nil
	}

	items, err := s.store.Items(ctx)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if it.Posted || it.Skipped {
			continue
		}
		ids = append(ids, it.ID)
	}

	plan := schedule.Assign(schedule.Plan{
		Start:    camp.StartAt.In(s.loc),
		End:      camp.EndAt.In(s.loc),
		Interval: camp.Interval,
	}, s.window, ids)

	if err := s.store.ApplySchedule(ctx, plan); err != nil {
		return fmt.Errorf("apply schedule: %w", err)
	}
	s.log.Debug("schedule recomputed",
		logx.Int("eligible", len(ids)),
		logx.Int("slotted", len(plan)))
	return nil
}
