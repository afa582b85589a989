// Package cron schedules the recurring compile and sweep jobs on a
// fixed timezone.
package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc runs one scheduled job. The context carries shutdown.
type JobFunc func(ctx context.Context, now time.Time) error

// JobStatus is a snapshot of one registered job for status reporting.
type JobStatus struct {
	Name       string
	Spec       string
	LastRunAt  time.Time
	LastStatus string
	LastError  string
}

type job struct {
	name    string
	spec    string
	fn      JobFunc
	running atomic.Bool

	mu         sync.Mutex
	lastRunAt  time.Time
	lastStatus string
	lastError  string
}

type Service struct {
	cron   *rcron.Cron
	loc    *time.Location
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs []*job
}

func NewService(loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   rcron.New(rcron.WithSeconds(), rcron.WithLocation(loc)),
		loc:    loc,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a job under a six-field cron spec. A tick that arrives
// while the previous run is still going is skipped, not queued.
func (s *Service) Register(name, spec string, fn JobFunc) error {
	j := &job{name: name, spec: spec, fn: fn}
	_, err := s.cron.AddFunc(spec, func() {
		s.execute(j)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	s.mu.Unlock()
	return nil
}

func (s *Service) execute(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.log.Warn().Str("job", j.name).Msg("previous run still active, tick skipped")
		return
	}
	defer j.running.Store(false)

	now := time.Now().In(s.loc)
	s.log.Debug().Str("job", j.name).Msg("job started")
	err := j.fn(s.ctx, now)

	j.mu.Lock()
	j.lastRunAt = now
	if err != nil {
		j.lastStatus = "error"
		j.lastError = err.Error()
	} else {
		j.lastStatus = "ok"
		j.lastError = ""
	}
	j.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", j.name).Msg("job failed")
	}
}

func (s *Service) Start() {
	s.cron.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.log.Info().Int("jobs", n).Msg("cron started")
}

// Stop cancels running jobs and waits briefly for them to drain.
func (s *Service) Stop() {
	s.cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("stop timeout waiting for running jobs")
	}
	s.log.Info().Msg("cron stopped")
}

func (s *Service) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, JobStatus{
			Name:       j.name,
			Spec:       j.spec,
			LastRunAt:  j.lastRunAt,
			LastStatus: j.lastStatus,
			LastError:  j.lastError,
		})
		j.mu.Unlock()
	}
	return out
}
