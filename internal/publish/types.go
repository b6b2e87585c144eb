package publish

import (
	"context"
	"fmt"
	"time"
)

// Publisher is the external posting collaborator. Publish sends the
// text and returns the provider-side post id. Implementations classify
// failures into the error types below.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// RateLimitedError means the attempt was refused by pacing, either the
// local floor or a provider rate-limit signal. It is transient: the
// same item stays eligible and is retried after RetryAfter.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.RetryAfter.Round(time.Second))
}

// ProviderError is a publish-time failure unrelated to pacing. It is
// recorded on the item until an operator clears it.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}

// ConfigError means the publishing credentials or target are unusable.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "publisher config: " + e.Message }
