package jobs

import (
	"log"
	"sync"
	"time"
)

// Sweeper evicts idle sessions and reports how many calls are still live.
type Sweeper interface {
	Sweep(now time.Time) int
	Active() int
}

// SweepObserver receives eviction samples.
type SweepObserver interface {
	SessionsSwept(n int)
	SetSessionsActive(n int)
}

// SessionJanitor periodically evicts sessions that have been idle longer
// than the store's TTL. Sessions locked by an in-flight turn are skipped by
// the store and retried on the next tick.
type SessionJanitor struct {
	store    Sweeper
	metrics  SweepObserver
	logger   *log.Logger
	interval time.Duration
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionJanitor creates a janitor. A zero interval means one minute;
// metrics may be nil.
func NewSessionJanitor(store Sweeper, metrics SweepObserver, logger *log.Logger, interval time.Duration) *SessionJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionJanitor{
		store:    store,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *SessionJanitor) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("SessionJanitor: started (interval=%v)", j.interval)
}

// Stop stops the background job and waits for a running sweep. Safe to call
// more than once.
func (j *SessionJanitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
		j.wg.Wait()
		j.logger.Println("SessionJanitor: stopped")
	})
}

func (j *SessionJanitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.SweepOnce()
		case <-j.stopCh:
			return
		}
	}
}

// SweepOnce runs a single eviction pass and returns how many sessions were
// removed.
func (j *SessionJanitor) SweepOnce() int {
	n := j.store.Sweep(j.now())
	if n > 0 {
		j.logger.Printf("SessionJanitor: evicted %d idle sessions", n)
	}
	if j.metrics != nil {
		j.metrics.SessionsSwept(n)
		j.metrics.SetSessionsActive(j.store.Active())
	}
	return n
}
