// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Repairer re-embeds memory rows missing from the vector index
type Repairer interface {
	RepairEmbeddings(ctx context.Context, batchSize int) (int, error)
}

// Scheduler handles periodic embedding repair
type Scheduler struct {
	repairer  Repairer
	interval  time.Duration
	batchSize int
	logger    *log.Logger
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	started   bool
	stopped   bool
}

// NewScheduler creates a new scheduler
func NewScheduler(repairer Repairer, intervalMinutes, batchSize int, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		repairer:  repairer,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		batchSize: batchSize,
		logger:    logger.With("component", "reindexer"),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithInterval overrides the tick interval
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	s.interval = d
	return s
}

// Start begins the scheduler. A non-positive interval disables it. Calls
// after the first, or after Stop, do nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	if s.interval <= 0 {
		s.logger.Info("embedding repair disabled")
		close(s.done)
		return
	}

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("embedding repair scheduled", "interval", s.interval, "batch_size", s.batchSize)
}

// Stop stops the scheduler and waits for a running pass to finish. It
// returns at once when Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.stopped = true
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })
	if started {
		<-s.done
	}
}

// RunOnce performs a single repair pass and returns how many memories were
// re-embedded
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := time.Now()
	repaired, err := s.repairer.RepairEmbeddings(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("embedding repair failed", "repaired", repaired, "error", err)
		return repaired
	}
	if repaired > 0 {
		s.logger.Info("embeddings repaired", "repaired", repaired, "elapsed", time.Since(start))
	} else {
		s.logger.Debug("no embeddings missing")
	}
	return repaired
}
