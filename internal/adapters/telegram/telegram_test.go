package telegram

import (
	"errors"
	"net/http"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"promobot/internal/publish"
	logx "promobot/pkg/logx"
)

func TestClassifyFlood(t *testing.T) {
	err := classify(&tele.FloodError{
		RetryAfter: 30,
	})
	var rl *publish.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Fatalf("retry after = %s, want 30s", rl.RetryAfter)
	}
}

func TestClassifyAPIErrors(t *testing.T) {
	var rl *publish.RateLimitedError
	if err := classify(&tele.Error{Code: http.StatusTooManyRequests}); !errors.As(err, &rl) {
		t.Fatalf("429 mapped to %v, want RateLimitedError", err)
	}

	var cerr *publish.ConfigError
	if err := classify(&tele.Error{Code: http.StatusUnauthorized, Description: "bad token"}); !errors.As(err, &cerr) {
		t.Fatalf("401 mapped to %v, want ConfigError", err)
	}
	if err := classify(&tele.Error{Code: http.StatusForbidden, Description: "kicked"}); !errors.As(err, &cerr) {
		t.Fatalf("403 mapped to %v, want ConfigError", err)
	}

	var perr *publish.ProviderError
	if err := classify(&tele.Error{Code: http.StatusBadRequest, Description: "message is too long"}); !errors.As(err, &perr) {
		t.Fatalf("400 mapped to %v, want ProviderError", err)
	}
	if perr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", perr.Code)
	}

	if err := classify(errors.New("connection reset")); !errors.As(err, &perr) {
		t.Fatalf("opaque error mapped to %v, want ProviderError", err)
	}
}

func TestNewRejectsMissingSettings(t *testing.T) {
	var cerr *publish.ConfigError
	if _, err := New(Config{Channel: "@c"}, logx.Nop()); !errors.As(err, &cerr) {
		t.Fatalf("missing token: err = %v, want ConfigError", err)
	}
	if _, err := New(Config{Token: "t"}, logx.Nop()); !errors.As(err, &cerr) {
		t.Fatalf("missing channel: err = %v, want ConfigError", err)
	}
}

func TestChatRecipient(t *testing.T) {
	if got := chat("@promos").Recipient(); got != "@promos" {
		t.Fatalf("recipient = %q", got)
	}
	if got := chat("-1001234").Recipient(); got != "-1001234" {
		t.Fatalf("recipient = %q", got)
	}
}
