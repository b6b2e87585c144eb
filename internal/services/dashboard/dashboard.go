// Package dashboard serves the monitoring and manual-control HTTP API
// consumed by the operator UI.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"promobot/internal/publish"
	"promobot/internal/services/campaign"
	"promobot/internal/services/scheduler"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string
	Token   string // optional static bearer token

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Pacing exposes the gate's bookkeeping for the status endpoint.
type Pacing interface {
	State() (lastPost, resetAt time.Time)
}

type Service struct {
	cfg    Config
	log    logx.Logger
	svc    *campaign.Service
	pacing Pacing
	sched  *scheduler.Service

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, svc *campaign.Service, pacing Pacing, sched *scheduler.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	return &Service{cfg: cfg, log: log, svc: svc, pacing: pacing, sched: sched}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.router(),
		ReadTimeout:  orDefault(s.cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: orDefault(s.cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(s.cfg.IdleTimeout, time.Minute),
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server stopped", logx.Err(err))
		}
	}()
	s.log.Info("dashboard listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

// Addr returns the bound address (useful when Addr had port 0).
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.cfg.Token != "" {
		r.Use(s.requireToken)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/items", s.handleListItems)
		r.Post("/items", s.handleIngest)
		r.Post("/items/{id}/skip", s.handleSkip)
		r.Post("/items/skip-all", s.handleSkipAll)
		r.Post("/items/clear-errors", s.handleClearErrors)
		r.Get("/campaign", s.handleGetCampaign)
		r.Put("/campaign", s.handleSaveCampaign)
		r.Post("/test-post", s.handleTestPost)
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)))
	})
}

func (s *Service) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		want := "Bearer " + s.cfg.Token
		if subtleEqual(auth, want) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// mapError translates domain errors into HTTP responses without leaking
// provider payloads: operator-facing detail stays in the log stream.
func (s *Service) mapError(w http.ResponseWriter, err error) {
	var verr *campaign.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"message": verr.Error(),
			"field":   verr.Field,
		})
		return
	}
	var rl *publish.RateLimitedError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", rl.RetryAfter.Round(time.Second).String())
		writeError(w, http.StatusTooManyRequests, rl.Error())
		return
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, storage.ErrItemPosted):
		writeError(w, http.StatusConflict, "item already posted")
	case errors.Is(err, campaign.ErrNoCampaign):
		writeError(w, http.StatusNotFound, "no campaign configured")
	case errors.Is(err, campaign.ErrNoneEligible):
		writeError(w, http.StatusConflict, "no eligible item to post")
	default:
		var perr *publish.ProviderError
		var cerr *publish.ConfigError
		if errors.As(err, &perr) || errors.As(err, &cerr) {
			s.log.Error("publish failed", logx.Err(err))
			writeError(w, http.StatusBadGateway, "publish failed; see server log")
			return
		}
		s.log.Error("request failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
