package poster

import (
	"context"
	"errors"
	"testing"
	"time"

	"promobot/internal/publish"
	"promobot/internal/schedule"
	"promobot/internal/services/campaign"
	"promobot/internal/services/scheduler"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

type fakeCampaigns struct {
	camp    *storage.Campaign
	campErr error
	window  schedule.Window

	publishCalls  int
	publishBypass bool
	publishItem   *storage.Item
	publishErr    error
}

func (f *fakeCampaigns) Campaign(ctx context.Context) (*storage.Campaign, error) {
	if f.campErr != nil {
		return nil, f.campErr
	}
	return f.camp, nil
}

func (f *fakeCampaigns) Window() schedule.Window { return f.window }

func (f *fakeCampaigns) PublishDue(ctx context.Context, now time.Time, bypassSchedule bool) (*storage.Item, error) {
	f.publishCalls++
	f.publishBypass = bypassSchedule
	return f.publishItem, f.publishErr
}

var tickNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPoster(t *testing.T, f *fakeCampaigns) *Service {
	t.Helper()
	sched, err := scheduler.New(scheduler.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	s := New(Config{Enabled: true}, f, sched, logx.Nop())
	s.SetClock(func() time.Time { return tickNow })
	return s
}

func activeCampaign() *storage.Campaign {
	return &storage.Campaign{
		StartAt:  tickNow.Add(-2 * time.Hour),
		EndAt:    tickNow.Add(2 * time.Hour),
		Interval: 30 * time.Minute,
	}
}

func TestTickWithoutCampaignIsNoop(t *testing.T) {
	f := &fakeCampaigns{campErr: campaign.ErrNoCampaign, window: schedule.DefaultWindow()}
	s := newTestPoster(t, f)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.publishCalls != 0 {
		t.Fatal("publish attempted without a campaign")
	}
}

func TestTickOutsideCampaignBounds(t *testing.T) {
	f := &fakeCampaigns{window: schedule.DefaultWindow()}
	s := newTestPoster(t, f)

	f.camp = &storage.Campaign{
		StartAt:  tickNow.Add(time.Hour),
		EndAt:    tickNow.Add(3 * time.Hour),
		Interval: 30 * time.Minute,
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick before start: %v", err)
	}

	f.camp = &storage.Campaign{
		StartAt:  tickNow.Add(-3 * time.Hour),
		EndAt:    tickNow.Add(-time.Hour),
		Interval: 30 * time.Minute,
	}
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick after end: %v", err)
	}
	if f.publishCalls != 0 {
		t.Fatal("publish attempted outside campaign bounds")
	}
}

func TestTickOutsideActiveHours(t *testing.T) {
	// 12:00 falls outside a 14:00-20:00 window.
	f := &fakeCampaigns{
		camp:   activeCampaign(),
		window: schedule.Window{StartHour: 14, EndHour: 20, EndMinute: 0},
	}
	s := newTestPoster(t, f)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.publishCalls != 0 {
		t.Fatal("publish attempted outside active hours")
	}
}

func TestTickPublishesDueItem(t *testing.T) {
	f := &fakeCampaigns{
		camp:        activeCampaign(),
		window:      schedule.DefaultWindow(),
		publishItem: &storage.Item{ID: 1, Posted: true},
	}
	s := newTestPoster(t, f)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if f.publishCalls != 1 {
		t.Fatalf("publish calls = %d, want 1", f.publishCalls)
	}
	if f.publishBypass {
		t.Fatal("automated tick must not bypass the schedule")
	}
}

func TestTickIdleOutcomes(t *testing.T) {
	f := &fakeCampaigns{camp: activeCampaign(), window: schedule.DefaultWindow()}
	s := newTestPoster(t, f)
	ctx := context.Background()

	f.publishErr = campaign.ErrNoneEligible
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("none eligible: %v", err)
	}
	f.publishErr = campaign.ErrNotDue
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("not due: %v", err)
	}
	f.publishErr = &publish.RateLimitedError{RetryAfter: time.Minute}
	if err := s.Tick(ctx); err != nil {
		t.Fatalf("rate limited tick must be quiet, got %v", err)
	}
}

func TestTickSurfacesProviderFailure(t *testing.T) {
	f := &fakeCampaigns{
		camp:       activeCampaign(),
		window:     schedule.DefaultWindow(),
		publishErr: &publish.ProviderError{Code: 500, Message: "boom"},
	}
	s := newTestPoster(t, f)

	err := s.Tick(context.Background())
	var perr *publish.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want the provider error", err)
	}
}

func TestCadenceTracksCampaignInterval(t *testing.T) {
	f := &fakeCampaigns{camp: activeCampaign(), window: schedule.DefaultWindow()}
	f.camp.Interval = 2 * time.Hour
	s := newTestPoster(t, f)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	spec, ok := s.sched.Spec(tickJob)
	if !ok {
		t.Fatal("tick job not registered")
	}
	if want := "@every " + time.Hour.String(); spec != want {
		t.Fatalf("spec = %q, want %q (half the campaign interval)", spec, want)
	}

	// A short interval falls back to the check floor.
	f.camp.Interval = 2 * time.Minute
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	spec, _ = s.sched.Spec(tickJob)
	if want := "@every " + (5 * time.Minute).String(); spec != want {
		t.Fatalf("spec = %q, want %q (floor)", spec, want)
	}
}

func TestApplyDisableRemovesJob(t *testing.T) {
	f := &fakeCampaigns{camp: activeCampaign(), window: schedule.DefaultWindow()}
	s := newTestPoster(t, f)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.sched.Spec(tickJob); !ok {
		t.Fatal("tick job missing after start")
	}
	if err := s.Apply(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.sched.Spec(tickJob); ok {
		t.Fatal("tick job still registered after disable")
	}
}
