package app

import (
	"time"

	"promobot/internal/adapters/telegram"
	"promobot/internal/config"
	"promobot/internal/observability/pprof"
	"promobot/internal/publish"
	"promobot/internal/schedule"
	"promobot/internal/services/dashboard"
	"promobot/internal/services/poster"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

// Mapping from the file config to per-service configs. Duration fields
// were validated by config.Validate, so parse errors here fall back to
// the service defaults.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Notify: logx.NotifyConfig{
			Enabled:    cfg.Logging.Notify.Enabled,
			MinLevel:   cfg.Logging.Notify.MinLevel,
			RatePerMin: cfg.Logging.Notify.RatePerMin,
		},
	}
}

func mapTelegram(cfg *config.Config) telegram.Config {
	timeout, _ := config.ParseDurationField("telegram.request_timeout", cfg.Telegram.RequestTimeout)
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		Channel:        cfg.Telegram.Channel,
		OperatorChatID: cfg.Telegram.OperatorChatID,
		RatePerSec:     cfg.Telegram.RatePerSec,
		RequestTimeout: timeout,
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func mapWindow(cfg *config.Config) schedule.Window {
	h := cfg.ActiveHours
	if h == (config.ActiveHoursConfig{}) {
		return schedule.DefaultWindow()
	}
	return schedule.Window{StartHour: h.StartHour, EndHour: h.EndHour, EndMinute: h.EndMinute}
}

func mapPacing(cfg *config.Config) publish.GateConfig {
	min, _ := config.ParseDurationField("pacing.min_interval", cfg.Pacing.MinInterval)
	reset, _ := config.ParseDurationField("pacing.reset_fallback", cfg.Pacing.ResetFallback)
	timeout, _ := config.ParseDurationField("pacing.publish_timeout", cfg.Pacing.PublishTimeout)
	return publish.GateConfig{
		MinInterval:    min,
		ResetFallback:  reset,
		PublishTimeout: timeout,
	}
}

func mapPoster(cfg *config.Config) poster.Config {
	floor, _ := config.ParseDurationField("poster.check_floor", cfg.Poster.CheckFloor)
	return poster.Config{
		Enabled:    cfg.Poster.Enabled,
		CheckFloor: floor,
	}
}

func mapDashboard(cfg *config.Config) dashboard.Config {
	read, _ := config.ParseDurationField("dashboard.read_timeout", cfg.Dashboard.ReadTimeout)
	write, _ := config.ParseDurationField("dashboard.write_timeout", cfg.Dashboard.WriteTimeout)
	idle, _ := config.ParseDurationField("dashboard.idle_timeout", cfg.Dashboard.IdleTimeout)
	return dashboard.Config{
		Enabled:      cfg.Dashboard.Enabled,
		Addr:         cfg.Dashboard.Addr,
		Token:        cfg.Dashboard.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}
}

func mapPprof(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled: cfg.Pprof.Enabled,
		Addr:    cfg.Pprof.Addr,
		Token:   cfg.Pprof.Token,
	}
}

const schedulerDefaultTimeout = time.Minute
