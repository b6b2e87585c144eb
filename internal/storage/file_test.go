package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "promobot/pkg/logx"
)

func openTestFileStore(t *testing.T, path string) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return s
}

func TestFileStoreStartsEmptyWithoutSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.json")
	s := openTestFileStore(t, path)
	defer s.Close()

	items, err := s.Items(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("fresh store has %d items, want 0", len(items))
	}
	// No mutation yet, so no snapshot either.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("snapshot should not exist before first write, stat err = %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "promo.json")

	s := openTestFileStore(t, path)
	added := seedStore(t, s, 3)
	postedAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.MarkPosted(ctx, added[0].ID, postedAt); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSkipped(ctx, added[1].ID); err != nil {
		t.Fatal(err)
	}
	camp := Campaign{
		StartAt:  time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		Interval: time.Hour,
	}
	if err := s.SaveCampaign(ctx, camp); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePublishMark(ctx, postedAt); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	r := openTestFileStore(t, path)
	defer r.Close()

	items, err := r.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("reloaded %d items, want 3", len(items))
	}
	if !items[0].Posted || items[0].PostedAt == nil || !items[0].PostedAt.Equal(postedAt) {
		t.Fatalf("item 1 lost posted state: %+v", items[0])
	}
	if !items[1].Skipped {
		t.Fatalf("item 2 lost skipped state: %+v", items[1])
	}

	got, err := r.Campaign(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.StartAt.Equal(camp.StartAt) || got.Interval != camp.Interval {
		t.Fatalf("reloaded campaign = %+v, want %+v", got, camp)
	}

	mark, err := r.PublishMark(ctx)
	if err != nil || !mark.Equal(postedAt) {
		t.Fatalf("reloaded mark = (%v, %v), want %s", mark, err, postedAt)
	}

	// New ids continue after the reloaded ones.
	more := seedStore(t, r, 1)
	if more[0].ID != 4 {
		t.Fatalf("id after reload = %d, want 4", more[0].ID)
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}
