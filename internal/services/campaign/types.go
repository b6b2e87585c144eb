package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gate is the pacing-aware publish entry point (see internal/publish).
type Gate interface {
	Publish(ctx context.Context, text string) (string, error)
}

var (
	// ErrNoCampaign means no campaign configuration was ever saved.
	ErrNoCampaign = errors.New("no campaign configured")
	// ErrNoneEligible means every item is posted, skipped or failed.
	ErrNoneEligible = errors.New("no eligible item")
	// ErrNotDue means the next eligible item's slot has not arrived.
	ErrNotDue = errors.New("next item not due yet")
)

// ValidationError rejects bad input before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Overview is the dashboard status summary.
type Overview struct {
	Total     int        `json:"total"`
	Posted    int        `json:"posted"`
	Pending   int        `json:"pending"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	Scheduled int        `json:"scheduled"`
	NextDueID int64      `json:"nextDueId,omitempty"`
	NextDueAt *time.Time `json:"nextDueAt,omitempty"`
}
