// Package telegram implements the publish collaborator on top of the
// Telegram Bot API. Promo texts are posted to a single channel; the
// optional operator chat receives out-of-band notifications.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"promobot/internal/publish"
	logx "promobot/pkg/logx"
)

type Config struct {
	Token          string
	Channel        string // numeric chat id or @username
	OperatorChatID int64
	RatePerSec     int
	RequestTimeout time.Duration
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	target  tele.Recipient
	limiter *rate.Limiter
}

// chat is a raw recipient: Telegram accepts both numeric ids and
// @usernames in the chat_id field.
type chat string

func (c chat) Recipient() string { return string(c) }

// New builds the adapter and verifies the bot token with a getMe round
// trip (telebot does this during NewBot). Credential problems surface
// as *publish.ConfigError so callers can distinguish them from
// transient provider failures.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &publish.ConfigError{Message: "telegram token is empty"}
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, &publish.ConfigError{Message: "telegram channel is empty"}
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, &publish.ConfigError{Message: "bot handshake failed: " + err.Error()}
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		target:  chat(cfg.Channel),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	a.log.Info("telegram bot ready",
		logx.String("bot", b.Me.Username),
		logx.String("channel", cfg.Channel))
	return a, nil
}

// Publish posts text to the configured channel and returns the message
// id. Flood signals map to *publish.RateLimitedError with the
// provider's retry-after; everything else becomes *publish.ProviderError.
func (a *Adapter) Publish(ctx context.Context, text string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	msg, err := a.bot.Send(a.target, text, tele.NoPreview)
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// Notify implements logx.Notifier: best-effort delivery to the operator
// chat. A missing operator chat is not an error.
func (a *Adapter) Notify(ctx context.Context, text string) error {
	if a.cfg.OperatorChatID == 0 {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.bot.Send(tele.ChatID(a.cfg.OperatorChatID), text)
	return err
}

func classify(err error) error {
	var flood *tele.FloodError
	if errors.As(err, &flood) {
		return &publish.RateLimitedError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return &publish.RateLimitedError{}
		}
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return &publish.ConfigError{Message: apiErr.Description}
		}
		return &publish.ProviderError{Code: apiErr.Code, Message: apiErr.Description}
	}
	return &publish.ProviderError{Message: err.Error()}
}
