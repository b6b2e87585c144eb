// Package scheduler runs named periodic jobs on a shared cron runner.
//
// Jobs are registered under a stable, human-readable name (e.g.
// "poster:tick") and upserted by that name, so re-registering after a
// config change replaces the previous schedule deterministically. Each
// run gets a per-job timeout and an overlap guard: a tick that is still
// executing when the next one fires causes the new one to be skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "promobot/pkg/logx"
)

type Config struct {
	Timezone       string // IANA name; empty means system local
	DefaultTimeout time.Duration
}

type Job func(ctx context.Context) error

type def struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	runMu   sync.Mutex
	running bool
}

// JobInfo is a snapshot row for one registered job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitzero"`
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser

	c      *cron.Cron
	defs   map[string]*def
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
		}
	}
	return &Service{
		log: log,
		cfg: cfg,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*def{},
	}, nil
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		// in-flight job keeps running; its context is already cancelled
	}
}

// UpsertEvery registers (or replaces) an interval job.
func (s *Service) UpsertEvery(name string, every time.Duration, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	return s.Upsert(name, "@every "+every.String(), timeout, job)
}

// Upsert registers (or replaces) a job under name with a cron spec.
func (s *Service) Upsert(name, spec string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("job name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[name]; ok && s.c != nil && old.entryID != 0 {
		s.c.Remove(old.entryID)
	}
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	d := &def{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove deletes a job by name. Removing an unknown name is a no-op.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
}

// Spec returns the registered spec for name, if any.
func (s *Service) Spec(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return "", false
	}
	return d.spec, true
}

// Jobs returns a snapshot of registered jobs with their next run times.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) registerLocked(d *def) {
	id, err := s.c.AddFunc(d.spec, func() { s.run(d) })
	if err != nil {
		s.log.Error("job register failed", logx.String("job", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
	s.log.Debug("job registered", logx.String("job", d.name), logx.String("spec", d.spec))
}

func (s *Service) run(d *def) {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		s.log.Warn("job overlap; skipping run", logx.String("job", d.name))
		return
	}
	d.running = true
	d.runMu.Unlock()
	defer func() {
		d.runMu.Lock()
		d.running = false
		d.runMu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job",
				logx.String("job", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := d.job(ctx); err != nil {
		s.log.Warn("job failed", logx.String("job", d.name), logx.Err(err), logx.Duration("dur", time.Since(start)))
		return
	}
	s.log.Debug("job completed", logx.String("job", d.name), logx.Duration("dur", time.Since(start)))
}
