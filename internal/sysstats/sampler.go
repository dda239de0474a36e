package sysstats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "homedash/internal/log"
)

const readTimeout = 10 * time.Second

// Sampler keeps the latest reading and refreshes it on a cron schedule, so
// the admin status endpoint never waits on the host.
type Sampler struct {
	reader Reader

	mu      sync.RWMutex
	cron    *cron.Cron
	last    Stats
	lastErr error
	ok      bool
}

// NewSampler wraps reader.
func NewSampler(reader Reader) (*Sampler, error) {
	if reader == nil {
		return nil, errors.New("sysstats: reader is nil")
	}
	return &Sampler{reader: reader}, nil
}

// Start takes one reading and then samples on schedule (e.g. "@every 30s").
func (s *Sampler) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.Refresh(ctx) }); err != nil {
		return err
	}

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return errors.New("sysstats: sampler already started")
	}
	s.cron = c
	s.mu.Unlock()

	s.Refresh(ctx)
	c.Start()
	appLog.Info("system stats sampler started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sample to finish.
func (s *Sampler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Refresh takes a reading now and stores it.
func (s *Sampler) Refresh(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	st, err := s.reader.Read(ctx)
	if err != nil {
		appLog.Warn("system stats incomplete", "err", err)
	}

	s.mu.Lock()
	s.last = st
	s.lastErr = err
	s.ok = true
	s.mu.Unlock()
	return st
}

// Latest returns the last reading, or ok=false before the first one.
func (s *Sampler) Latest() (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ok
}

// LastError is the error of the last reading, if it was incomplete.
func (s *Sampler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}
