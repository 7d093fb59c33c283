package syncer

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs queue flushes and full syncs on their own tickers.
type Scheduler struct {
	mu            sync.RWMutex
	coordinator   *Coordinator
	flushInterval time.Duration
	syncInterval  time.Duration
	nudge         chan struct{}
	syncNow       chan struct{}
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewScheduler creates a scheduler. Zero intervals default to 30 seconds for
// flushes and 5 minutes for full syncs.
func NewScheduler(c *Coordinator, flushInterval, syncInterval time.Duration) *Scheduler {
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	if syncInterval <= 0 {
		syncInterval = 5 * time.Minute
	}
	return &Scheduler{
		coordinator:   c,
		flushInterval: flushInterval,
		syncInterval:  syncInterval,
		nudge:         make(chan struct{}, 1),
		syncNow:       make(chan struct{}, 1),
	}
}

// Start runs an initial full sync and then begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)

		s.coordinator.PerformFullSync(ctx, nil)

		flushTicker := time.NewTicker(s.flushInterval)
		defer flushTicker.Stop()
		syncTicker := time.NewTicker(s.syncInterval)
		defer syncTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-flushTicker.C:
				s.coordinator.FlushPendingQueue(ctx)
			case <-s.nudge:
				s.coordinator.FlushPendingQueue(ctx)
			case <-syncTicker.C:
				s.coordinator.PerformFullSync(ctx, nil)
			case <-s.syncNow:
				s.coordinator.PerformFullSync(ctx, nil)
			}
		}
	}()
}

// Nudge requests a flush soon without waiting for the ticker. Multiple
// nudges before the loop wakes collapse into one.
func (s *Scheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// RequestSync asks for a full sync without waiting for the ticker.
func (s *Scheduler) RequestSync() {
	select {
	case s.syncNow <- struct{}{}:
	default:
	}
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
