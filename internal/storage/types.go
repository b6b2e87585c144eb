package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an item id does not exist.
	ErrNotFound = errors.New("item not found")
	// ErrItemSkipped guards the posted/skipped exclusivity invariant.
	ErrItemSkipped = errors.New("item is skipped")
	// ErrItemPosted guards the posted/skipped exclusivity invariant.
	ErrItemPosted = errors.New("item is already posted")
)

// Config selects and configures a store backend.
//
// Driver values:
//   - "memory": non-durable in-process arena (tests, dry runs)
//   - "file": JSON snapshot file, rewritten after every mutation
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Item is one promotable listing together with its posting status.
// Descriptive fields are immutable after ingestion; status fields are
// mutated by the posting loop and by operator actions.
type Item struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Category      string     `json:"category"`
	Location      string     `json:"location"`
	Revenue       string     `json:"revenue"`
	MonthlyProfit string     `json:"monthlyProfit"`
	ProfitMargin  string     `json:"profitMargin"`
	PromoText     string     `json:"promoText"`
	Posted        bool       `json:"posted"`
	PostedAt      *time.Time `json:"postedAt,omitempty"`
	ScheduledAt   *time.Time `json:"scheduledTime,omitempty"`
	Skipped       bool       `json:"skipped"`
	Error         string     `json:"error,omitempty"`
}

// Draft is the ingestion input for one item (no identity, no status).
type Draft struct {
	Name          string `json:"name"`
	Category      string `json:"category"`
	Location      string `json:"location"`
	Revenue       string `json:"revenue"`
	MonthlyProfit string `json:"monthlyProfit"`
	ProfitMargin  string `json:"profitMargin"`
	PromoText     string `json:"promoText"`
}

// Campaign is the single active posting configuration.
type Campaign struct {
	StartAt  time.Time     `json:"startTime"`
	EndAt    time.Time     `json:"endTime"`
	Interval time.Duration `json:"interval"`
}

// Store is the persistence API consumed by the campaign service and the
// posting loop. Each operation is atomic with respect to a single
// record; cross-item sections (replanning) are serialized by the caller.
type Store interface {
	// Items returns all items ordered by ascending id.
	Items(ctx context.Context) ([]Item, error)
	Item(ctx context.Context, id int64) (Item, error)
	// NextDue returns the earliest-id item that is not posted, not
	// skipped and carries no error, or nil when there is none. Whether
	// its scheduled time has arrived is the caller's concern.
	NextDue(ctx context.Context) (*Item, error)

	// MarkPosted sets posted/postedAt and clears any error. It fails
	// with ErrItemSkipped on a skipped item.
	MarkPosted(ctx context.Context, id int64, at time.Time) error
	// MarkFailed records the failure message and ensures the item is
	// not counted as posted.
	MarkFailed(ctx context.Context, id int64, msg string) error
	// MarkSkipped withdraws the item from scheduling. It fails with
	// ErrItemPosted on an already posted item.
	MarkSkipped(ctx context.Context, id int64) error
	// SkipAll marks every non-posted, non-skipped item as skipped and
	// returns how many were affected.
	SkipAll(ctx context.Context) (int, error)
	// ClearErrors removes failure state from all items, returning the
	// affected count. Cleared items become eligible for posting again.
	ClearErrors(ctx context.Context) (int, error)

	// Ingest appends the drafts as new items with fresh ids, all status
	// fields cleared. The whole batch is applied atomically.
	Ingest(ctx context.Context, drafts []Draft) ([]Item, error)

	// ApplySchedule overwrites every item's scheduled time from the
	// plan: ids present in the plan get their slot, all others are
	// cleared.
	ApplySchedule(ctx context.Context, plan map[int64]time.Time) error

	// Campaign returns the active configuration, or nil if none was
	// ever saved.
	Campaign(ctx context.Context) (*Campaign, error)
	SaveCampaign(ctx context.Context, c Campaign) error

	// PublishMark persists the instant of the last successful publish so
	// pacing survives restarts. The zero time means "never published".
	PublishMark(ctx context.Context) (time.Time, error)
	SavePublishMark(ctx context.Context, at time.Time) error

	Close() error
}
