package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"promobot/internal/publish"
	"promobot/internal/schedule"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

type fakeGate struct {
	calls    int
	lastText string
	err      error
}

func (g *fakeGate) Publish(ctx context.Context, text string) (string, error) {
	g.calls++
	g.lastText = text
	if g.err != nil {
		return "", g.err
	}
	return "1", nil
}

func draft(name string) storage.Draft {
	return storage.Draft{
		Name:          name,
		Category:      "SaaS",
		Location:      "Remote",
		Revenue:       "$120k/yr",
		MonthlyProfit: "$6k",
		ProfitMargin:  "60%",
		PromoText:     "Now for sale: " + name,
	}
}

var baseNow = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeGate, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	gate := &fakeGate{}
	svc := New(store, gate, schedule.DefaultWindow(), time.UTC, logx.Nop())
	svc.SetClock(func() time.Time { return baseNow })
	return svc, gate, store
}

func mustIngest(t *testing.T, svc *Service, n int) []storage.Item {
	t.Helper()
	drafts := make([]storage.Draft, 0, n)
	for i := 0; i < n; i++ {
		drafts = append(drafts, draft("biz"))
	}
	added, err := svc.Ingest(context.Background(), drafts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return added
}

func mustSaveCampaign(t *testing.T, svc *Service, start, end time.Time, interval int) {
	t.Helper()
	if _, err := svc.SaveCampaign(context.Background(), start, end, interval); err != nil {
		t.Fatalf("save campaign: %v", err)
	}
}

func TestSaveCampaignValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start := baseNow.Add(2 * time.Hour)
	end := start.Add(4 * time.Hour)

	cases := []struct {
		name     string
		start    time.Time
		end      time.Time
		interval int
		field    string
	}{
		{"zero interval", start, end, 0, "intervalMinutes"},
		{"negative interval", start, end, -5, "intervalMinutes"},
		{"missing times", time.Time{}, time.Time{}, 30, "startTime"},
		{"end before start", end, start, 30, "endTime"},
		{"start in past", baseNow.Add(-time.Hour), end, 30, "startTime"},
		{"start too far out", baseNow.Add(3 * 365 * 24 * time.Hour), baseNow.Add(4 * 365 * 24 * time.Hour), 30, "startTime"},
	}
	for _, c := range cases {
		_, err := svc.SaveCampaign(ctx, c.start, c.end, c.interval)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: err = %v, want ValidationError", c.name, err)
			continue
		}
		if verr.Field != c.field {
			t.Errorf("%s: field = %q, want %q", c.name, verr.Field, c.field)
		}
	}

	if _, err := svc.Campaign(ctx); !errors.Is(err, ErrNoCampaign) {
		t.Fatalf("rejected campaigns must not be stored, err = %v", err)
	}
}

func TestSaveCampaignPlansPendingItems(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 5)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, end, 30)

	items, err := svc.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		want := start.Add(time.Duration(i) * 30 * time.Minute)
		got := items[i].ScheduledAt
		if got == nil || !got.Equal(want) {
			t.Fatalf("item %d slot = %v, want %s", items[i].ID, got, want)
		}
	}
	if items[4].ScheduledAt != nil {
		t.Fatalf("item 5 slot = %v, want none (campaign too short)", items[4].ScheduledAt)
	}
}

func TestIngestAllOrNothing(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	bad := draft("broken")
	bad.PromoText = ""
	_, err := svc.Ingest(ctx, []storage.Draft{draft("ok"), bad})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if verr.Field != "items[1].promoText" {
		t.Fatalf("field = %q, want items[1].promoText", verr.Field)
	}

	items, _ := store.Items(ctx)
	if len(items) != 0 {
		t.Fatalf("partial batch persisted: %d items", len(items))
	}

	if _, err := svc.Ingest(ctx, nil); !errors.As(err, &verr) {
		t.Fatalf("empty batch err = %v, want ValidationError", err)
	}
}

func TestSkipReplansRemaining(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 3)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, start.Add(12*time.Hour), 60)

	if err := svc.Skip(ctx, 1); err != nil {
		t.Fatalf("skip: %v", err)
	}

	items, _ := svc.Items(ctx)
	if items[0].ScheduledAt != nil || !items[0].Skipped {
		t.Fatalf("skipped item kept a slot: %+v", items[0])
	}
	// Remaining items shift forward into the freed slots.
	if items[1].ScheduledAt == nil || !items[1].ScheduledAt.Equal(start) {
		t.Fatalf("item 2 slot = %v, want %s", items[1].ScheduledAt, start)
	}
	if items[2].ScheduledAt == nil || !items[2].ScheduledAt.Equal(start.Add(time.Hour)) {
		t.Fatalf("item 3 slot = %v, want %s", items[2].ScheduledAt, start.Add(time.Hour))
	}
}

func TestCancelAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 3)

	n, err := svc.CancelAll(ctx)
	if err != nil || n != 3 {
		t.Fatalf("cancel all = (%d, %v), want (3, nil)", n, err)
	}
	items, _ := svc.Items(ctx)
	for _, it := range items {
		if !it.Skipped || it.ScheduledAt != nil {
			t.Fatalf("item %d not fully cancelled: %+v", it.ID, it)
		}
	}
}

func TestPublishDueOutcomes(t *testing.T) {
	svc, gate, store := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 2)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, start.Add(12*time.Hour), 60)

	// Before the first slot nothing is due.
	_, err := svc.PublishDue(ctx, start.Add(-time.Minute), false)
	if !errors.Is(err, ErrNotDue) {
		t.Fatalf("early attempt err = %v, want ErrNotDue", err)
	}
	if gate.calls != 0 {
		t.Fatal("gate must not be called before the slot")
	}

	// At the slot the item goes out and is marked.
	item, err := svc.PublishDue(ctx, start, false)
	if err != nil {
		t.Fatalf("due attempt: %v", err)
	}
	if !item.Posted || item.PostedAt == nil || !item.PostedAt.Equal(start) {
		t.Fatalf("posted item state = %+v", item)
	}
	if gate.lastText != item.PromoText {
		t.Fatalf("published %q, want the item promo text", gate.lastText)
	}

	// A rate limit leaves the next item untouched.
	gate.err = &publish.RateLimitedError{RetryAfter: time.Minute}
	_, err = svc.PublishDue(ctx, start.Add(time.Hour), false)
	var rl *publish.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	it2, _ := store.Item(ctx, 2)
	if it2.Error != "" || it2.Posted {
		t.Fatalf("rate-limited item was mutated: %+v", it2)
	}

	// A provider failure is recorded on the item.
	gate.err = &publish.ProviderError{Code: 500, Message: "boom"}
	_, err = svc.PublishDue(ctx, start.Add(time.Hour), false)
	if err == nil {
		t.Fatal("expected provider error")
	}
	it2, _ = store.Item(ctx, 2)
	if it2.Error == "" {
		t.Fatalf("failure not recorded: %+v", it2)
	}

	// With the only remaining item failed, nothing is eligible.
	_, err = svc.PublishDue(ctx, start.Add(2*time.Hour), false)
	if !errors.Is(err, ErrNoneEligible) {
		t.Fatalf("err = %v, want ErrNoneEligible", err)
	}
}

func TestTestPostBypassesSchedule(t *testing.T) {
	svc, gate, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 1)

	start := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, start.Add(12*time.Hour), 60)

	// The slot is tomorrow, but a manual test post goes out now.
	item, err := svc.TestPost(ctx)
	if err != nil {
		t.Fatalf("test post: %v", err)
	}
	if gate.calls != 1 || !item.Posted {
		t.Fatalf("test post did not publish: calls=%d item=%+v", gate.calls, item)
	}
}

func TestSeedIngestsOnlyIntoEmptyStore(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()

	drafts := []storage.Draft{draft("a"), draft("b")}
	b, err := json.Marshal(drafts)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := svc.Seed(ctx, path); err != nil {
		t.Fatalf("seed: %v", err)
	}
	items, _ := store.Items(ctx)
	if len(items) != 2 {
		t.Fatalf("seeded %d items, want 2", len(items))
	}

	// Second run is a no-op: the store is no longer empty.
	if err := svc.Seed(ctx, path); err != nil {
		t.Fatalf("repeat seed: %v", err)
	}
	items, _ = store.Items(ctx)
	if len(items) != 2 {
		t.Fatalf("repeat seed grew the store to %d items", len(items))
	}
}

func TestItemsByStatus(t *testing.T) {
	svc, gate, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 5)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, start.Add(12*time.Hour), 60)

	if _, err := svc.PublishDue(ctx, start, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PublishDue(ctx, start.Add(time.Hour), false); err != nil {
		t.Fatal(err)
	}
	if err := svc.Skip(ctx, 3); err != nil {
		t.Fatal(err)
	}
	gate.err = &publish.ProviderError{Message: "boom"}
	if _, err := svc.PublishDue(ctx, start.Add(2*time.Hour), false); err == nil {
		t.Fatal("expected failure")
	}

	posted, err := svc.ItemsByStatus(ctx, "posted")
	if err != nil {
		t.Fatal(err)
	}
	if len(posted) != 2 || posted[0].ID != 2 || posted[1].ID != 1 {
		t.Fatalf("posted = %+v, want items 2,1 newest first", posted)
	}

	pending, err := svc.ItemsByStatus(ctx, "pending")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != 5 {
		t.Fatalf("pending = %+v, want item 5 only", pending)
	}

	skipped, _ := svc.ItemsByStatus(ctx, "skipped")
	if len(skipped) != 1 || skipped[0].ID != 3 {
		t.Fatalf("skipped = %+v, want item 3 only", skipped)
	}
	failed, _ := svc.ItemsByStatus(ctx, "failed")
	if len(failed) != 1 || failed[0].ID != 4 {
		t.Fatalf("failed = %+v, want item 4 only", failed)
	}

	all, _ := svc.ItemsByStatus(ctx, "")
	if len(all) != 5 {
		t.Fatalf("unfiltered returned %d items, want 5", len(all))
	}

	var verr *ValidationError
	if _, err := svc.ItemsByStatus(ctx, "bogus"); !errors.As(err, &verr) || verr.Field != "status" {
		t.Fatalf("bogus filter err = %v, want ValidationError on status", err)
	}
}

func TestOverviewCounts(t *testing.T) {
	svc, gate, _ := newTestService(t)
	ctx := context.Background()
	mustIngest(t, svc, 4)

	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	mustSaveCampaign(t, svc, start, start.Add(12*time.Hour), 60)

	if _, err := svc.PublishDue(ctx, start, false); err != nil {
		t.Fatal(err)
	}
	if err := svc.Skip(ctx, 2); err != nil {
		t.Fatal(err)
	}
	gate.err = &publish.ProviderError{Message: "boom"}
	if _, err := svc.PublishDue(ctx, start.Add(time.Hour), false); err == nil {
		t.Fatal("expected failure")
	}

	ov, err := svc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Total != 4 || ov.Posted != 1 || ov.Skipped != 1 || ov.Failed != 1 || ov.Pending != 1 {
		t.Fatalf("overview = %+v", ov)
	}
	if ov.NextDueID != 4 {
		t.Fatalf("next due id = %d, want 4", ov.NextDueID)
	}
}
