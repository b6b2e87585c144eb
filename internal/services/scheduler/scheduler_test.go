package scheduler

import (
	"testing"
	"time"

	logx "promobot/pkg/logx"
)

func TestNewRejectsBadTimezone(t *testing.T) {
	if _, err := New(Config{Timezone: "Mars/Olympus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestNewResolvesTimezone(t *testing.T) {
	s, err := New(Config{Timezone: "UTC"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", s.Location())
	}
}

func TestUpsertValidatesInput(t *testing.T) {
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert("", "@every 1m", 0, nil); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Upsert("bad", "not a spec", 0, nil); err == nil {
		t.Fatal("expected error for invalid spec")
	}
	if err := s.UpsertEvery("neg", -time.Minute, 0, nil); err == nil {
		t.Fatal("expected error for non-positive interval")
	}
}

func TestUpsertReplacesAndRemove(t *testing.T) {
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpsertEvery("tick", time.Minute, 0, nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if spec, ok := s.Spec("tick"); !ok || spec != "@every 1m0s" {
		t.Fatalf("spec = (%q, %v)", spec, ok)
	}

	if err := s.UpsertEvery("tick", time.Hour, 0, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if spec, _ := s.Spec("tick"); spec != "@every 1h0m0s" {
		t.Fatalf("replaced spec = %q", spec)
	}
	if jobs := s.Jobs(); len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1 after replace", len(jobs))
	}

	s.Remove("tick")
	if _, ok := s.Spec("tick"); ok {
		t.Fatal("job still present after remove")
	}
	s.Remove("tick") // removing twice is fine
}
