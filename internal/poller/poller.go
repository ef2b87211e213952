// Package poller keeps task execution status fresh.
//
// A poll fetches status for every task and merges it into the task store by
// id. Polls run on a fixed interval for the lifetime of a Handle, plus once
// right away. The "plugin not initialized" condition is retried after a fixed
// delay a bounded number of times; every other failure ends the cycle. All
// failures are logged only: polling is background work and never alerts the
// operator.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tagdesk/internal/remote"
	logx "tagdesk/pkg/logx"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultRetryDelay = 5 * time.Second
	DefaultRetryMax   = 3
)

type Config struct {
	Interval   time.Duration
	RetryDelay time.Duration
	RetryMax   int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

// Source fetches status. *remote.Client implements it.
type Source interface {
	TaskStatus(ctx context.Context) ([]remote.StatusEntry, error)
}

// Sink receives status. *tasks.Store implements it.
type Sink interface {
	MergeStatus(entries []remote.StatusEntry) int
}

type Stats struct {
	Cycles   uint64
	Retries  uint64
	Failures uint64
	Merged   uint64
}

type Poller struct {
	src  Source
	sink Sink
	cfg  Config
	log  logx.Logger

	cycles   atomic.Uint64
	retries  atomic.Uint64
	failures atomic.Uint64
	merged   atomic.Uint64
}

func New(src Source, sink Sink, cfg Config, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{src: src, sink: sink, cfg: cfg.withDefaults(), log: log.With(logx.String("comp", "poller"))}
}

func (p *Poller) Config() Config { return p.cfg }

func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:   p.cycles.Load(),
		Retries:  p.retries.Load(),
		Failures: p.failures.Load(),
		Merged:   p.merged.Load(),
	}
}

// Cycle performs one poll including retries. The returned error is the last
// failure of the cycle; it has already been logged.
func (p *Poller) Cycle(ctx context.Context) error {
	p.cycles.Add(1)
	for attempt := 0; ; attempt++ {
		entries, err := p.src.TaskStatus(ctx)
		if err == nil {
			n := p.sink.MergeStatus(entries)
			p.merged.Add(uint64(n))
			p.log.Debug("status merged", logx.Int("entries", len(entries)), logx.Int("merged", n), logx.Int("attempt", attempt+1))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !errors.Is(err, remote.ErrPluginNotInitialized) {
			p.failures.Add(1)
			p.log.Warn("status poll failed", logx.Err(err))
			return err
		}
		if attempt >= p.cfg.RetryMax {
			p.failures.Add(1)
			p.log.Warn("status poll gave up, plugin not initialized", logx.Int("attempts", attempt+1))
			return fmt.Errorf("status poll after %d attempts: %w", attempt+1, err)
		}

		p.retries.Add(1)
		p.log.Debug("plugin not initialized, retrying", logx.Int("attempt", attempt+1), logx.Duration("delay", p.cfg.RetryDelay))
		t := time.NewTimer(p.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Handle owns a running poll loop.
type Handle struct {
	cancel context.CancelFunc
	c      *cron.Cron
	wg     sync.WaitGroup
	once   sync.Once
	done   chan struct{}
}

// Start runs one cycle immediately and then one every Interval until the
// handle is stopped or ctx is cancelled. Cycles may overlap.
func (p *Poller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		c:      cron.New(),
		done:   make(chan struct{}),
	}

	run := func() {
		if ctx.Err() != nil {
			return
		}
		_ = p.Cycle(ctx)
	}

	// cron's Stop waits for scheduled runs; wg covers the first one.
	h.c.Schedule(cron.Every(p.cfg.Interval), cron.FuncJob(run))
	h.c.Start()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		run()
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	p.log.Info("status poller started", logx.Duration("interval", p.cfg.Interval), logx.Duration("retry_delay", p.cfg.RetryDelay), logx.Int("retry_max", p.cfg.RetryMax))
	return h
}

// Stop cancels the schedule and any pending retry wait, then waits for
// running cycles to return. Safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.c.Stop().Done()
		h.wg.Wait()
		close(h.done)
	})
}

// Done is closed once Stop has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }
