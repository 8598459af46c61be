// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/companion-memory/internal/logging"
)

type countingRepairer struct {
	calls     atomic.Int32
	batchSize atomic.Int32
	repaired  int
	err       error
}

func (r *countingRepairer) RepairEmbeddings(_ context.Context, batchSize int) (int, error) {
	r.calls.Add(1)
	r.batchSize.Store(int32(batchSize))
	return r.repaired, r.err
}

func TestScheduler_Ticks(t *testing.T) {
	r := &countingRepairer{repaired: 2}
	s := NewScheduler(r, 15, 50, logging.Discard()).WithInterval(10 * time.Millisecond)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	calls := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, r.calls.Load())
	assert.Equal(t, int32(50), r.batchSize.Load())
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := NewScheduler(&countingRepairer{}, 1, 10, logging.Discard())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	r := &countingRepairer{}
	s := NewScheduler(r, 1, 10, logging.Discard()).WithInterval(5 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked without Start")
	}

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, r.calls.Load())
}

func TestScheduler_DisabledInterval(t *testing.T) {
	r := &countingRepairer{}
	s := NewScheduler(r, 0, 10, logging.Discard())
	s.Start(context.Background())
	s.Stop()
	assert.Zero(t, r.calls.Load())
}

func TestScheduler_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(&countingRepairer{}, 1, 10, logging.Discard())
	s.Start(ctx)
	cancel()
	s.Stop()
}

func TestRunOnce(t *testing.T) {
	assert.Equal(t, 3, NewScheduler(&countingRepairer{repaired: 3}, 1, 10, logging.Discard()).RunOnce(context.Background()))

	failing := &countingRepairer{repaired: 1, err: errors.New("index down")}
	assert.Equal(t, 1, NewScheduler(failing, 1, 10, logging.Discard()).RunOnce(context.Background()))
}
