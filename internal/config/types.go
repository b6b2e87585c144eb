package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration. JSON and YAML are both accepted
// (YAML is coerced to JSON before the strict decode). All durations are
// Go duration strings (e.g. "45m", "30s").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	ActiveHours ActiveHoursConfig `json:"active_hours,omitempty"`
	Pacing      PacingConfig      `json:"pacing,omitempty"`
	Poster      PosterConfig      `json:"poster,omitempty"`
	Dashboard   DashboardConfig   `json:"dashboard,omitempty"`
	Pprof       PprofConfig       `json:"pprof,omitempty"`

	// SeedFile, when set, is a JSON drafts file ingested on startup if
	// the store is empty.
	SeedFile string `json:"seed_file,omitempty"`

	// Timezone is the IANA location all window and schedule math runs
	// in. Empty means system local. This is configuration, not logic:
	// every persisted instant is interpreted in this one location.
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	Channel        string `json:"channel"`
	OperatorChatID int64  `json:"operator_chat_id,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string          `json:"level,omitempty"`
	Console bool            `json:"console"`
	File    LogFileConfig   `json:"file,omitempty"`
	Notify  LogNotifyConfig `json:"notify,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LogNotifyConfig forwards error-level log lines to the operator chat.
type LogNotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ActiveHoursConfig is the daily posting window, inclusive on both
// ends. Zero values fall back to 08:00-23:55.
type ActiveHoursConfig struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
	EndMinute int `json:"end_minute"`
}

// PacingConfig sizes the publish gate. The defaults (45m floor, 15m
// provider fallback) keep daily volume under the provider ceiling; the
// true provider limits are deployment knobs, not code constants.
type PacingConfig struct {
	MinInterval    string `json:"min_interval,omitempty"`
	ResetFallback  string `json:"reset_fallback,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

type PosterConfig struct {
	Enabled    bool   `json:"enabled"`
	CheckFloor string `json:"check_floor,omitempty"`
}

type DashboardConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Validate checks everything that can be checked without touching the
// network. The config manager runs it before committing a hot reload.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		return fmt.Errorf("telegram.channel is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver %q is unknown", c.Storage.Driver)
	}

	if h := c.ActiveHours; h != (ActiveHoursConfig{}) {
		if h.StartHour < 0 || h.StartHour > 23 || h.EndHour < 0 || h.EndHour > 23 ||
			h.EndMinute < 0 || h.EndMinute > 59 || h.StartHour > h.EndHour {
			return fmt.Errorf("active_hours: invalid window %02d:00-%02d:%02d", h.StartHour, h.EndHour, h.EndMinute)
		}
	}

	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}

	for path, raw := range map[string]string{
		"telegram.request_timeout": c.Telegram.RequestTimeout,
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"pacing.min_interval":      c.Pacing.MinInterval,
		"pacing.reset_fallback":    c.Pacing.ResetFallback,
		"pacing.publish_timeout":   c.Pacing.PublishTimeout,
		"poster.check_floor":       c.Poster.CheckFloor,
		"dashboard.read_timeout":   c.Dashboard.ReadTimeout,
		"dashboard.write_timeout":  c.Dashboard.WriteTimeout,
		"dashboard.idle_timeout":   c.Dashboard.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}
