/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailcap/trailcap/pkg/metrics"
)

type queueState int

const (
	stateActive queueState = iota
	stateDraining
	stateClosed
)

// queueItem pairs one enriched entry with its completion handle.
type queueItem struct {
	entry  *Entry
	handle *Handle
}

// writeOp tracks one physical sink write so that a flush request
// arriving mid-write can await it instead of starting a second.
type writeOp struct {
	done chan struct{}
	err  error
}

// DeliveryQueue is a bounded in-memory queue of pending entries with a
// timer- and size-triggered batch scheduler on top.
//
// The queue is a mutex-guarded slice rather than a channel: the
// backpressure contract (reject the whole enqueue, never a partial
// push) and the flush snapshot both need atomic multi-item operations.
// The mutex and the single in-flight write op are the only shared
// mutable state; all sink writes for one queue are strictly
// sequential.
type DeliveryQueue struct {
	cfg    DeliveryConfig
	sink   Sink
	logger *zap.Logger

	mu       sync.Mutex
	items    []*queueItem
	state    queueState
	inflight *writeOp
	timer    *time.Timer

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	shutdownErr  error
}

// NewDeliveryQueue validates cfg, starts the flush timer and registers
// the queue with the process-wide shutdown registry.
func NewDeliveryQueue(sink Sink, cfg DeliveryConfig, logger *zap.Logger) (*DeliveryQueue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q := &DeliveryQueue{
		cfg:          cfg,
		sink:         sink,
		logger:       logger.Named("delivery-queue").With(zap.String("sink", sink.Name())),
		shutdownDone: make(chan struct{}),
	}
	q.timer = time.AfterFunc(cfg.FlushInterval, q.timerFire)
	defaultRegistry.register(q)

	q.logger.Info("delivery queue started",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Bool("strict", cfg.Strict),
		zap.Bool("wait_for_write", cfg.WaitForWrite))

	return q, nil
}

// Enqueue pushes entries onto the queue and returns one completion
// handle per entry. If the push would exceed MaxQueueSize the whole
// call is rejected before anything is pushed. Once shutdown has begun,
// Enqueue fails with ErrShuttingDown.
//
// When the push reaches BatchSize a flush is triggered. With
// WaitForWrite or Strict set, Enqueue awaits that flush (and therefore
// the per-entry handles); Strict additionally returns the flush error.
// Otherwise the flush runs in the background and any failure is logged
// and swallowed — handles still get rejected, so a caller that awaits
// them is correctly informed.
func (q *DeliveryQueue) Enqueue(ctx context.Context, entries []*Entry) ([]*Handle, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	q.mu.Lock()
	if q.state != stateActive {
		q.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if q.cfg.MaxQueueSize > 0 && len(q.items)+len(entries) > q.cfg.MaxQueueSize {
		pending := len(q.items)
		q.mu.Unlock()
		metrics.EnqueueRejected.WithLabelValues("queue_full").Inc()
		return nil, fmt.Errorf("%w: %d pending + %d new exceeds limit %d",
			ErrQueueFull, pending, len(entries), q.cfg.MaxQueueSize)
	}

	handles := make([]*Handle, len(entries))
	for i, entry := range entries {
		item := &queueItem{entry: entry, handle: newHandle()}
		handles[i] = item.handle
		q.items = append(q.items, item)
	}
	// The size trigger is decided under the same lock as the push, so
	// two concurrent callers can never both observe "under threshold"
	// and both skip the flush.
	shouldFlush := len(q.items) >= q.cfg.BatchSize
	metrics.QueueLength.Set(float64(len(q.items)))
	q.mu.Unlock()

	metrics.EntriesEnqueued.Add(float64(len(entries)))

	if !shouldFlush {
		return handles, nil
	}

	if q.cfg.WaitForWrite || q.cfg.Strict {
		err := q.Flush(ctx)
		if q.cfg.Strict && err != nil {
			return handles, err
		}
		return handles, nil
	}

	go func() {
		if err := q.Flush(context.Background()); err != nil {
			q.logger.Error("size-triggered flush failed", zap.Error(err))
		}
	}()
	return handles, nil
}

// Flush delivers everything currently queued as one batch. If a write
// is already in flight, Flush awaits it and returns its result rather
// than starting a second write. Entries enqueued while the write runs
// stay queued for the next flush.
//
// On success every snapshotted handle resolves; on failure every one
// is rejected and the error is returned.
func (q *DeliveryQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if op := q.inflight; op != nil {
		q.mu.Unlock()
		select {
		case <-op.done:
			return op.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}

	snapshot := q.items
	q.items = nil
	op := &writeOp{done: make(chan struct{})}
	q.inflight = op
	metrics.QueueLength.Set(0)
	q.mu.Unlock()

	err := q.writeBatch(ctx, snapshot)

	op.err = err
	close(op.done)

	q.mu.Lock()
	q.inflight = nil
	q.mu.Unlock()

	return err
}

// writeBatch performs the physical sink write for one snapshot and
// resolves every snapshotted handle, success or failure.
func (q *DeliveryQueue) writeBatch(ctx context.Context, snapshot []*queueItem) error {
	entries := make([]*Entry, len(snapshot))
	for i, item := range snapshot {
		entries[i] = item.entry
	}

	start := time.Now()
	var err error
	if partial, ok := q.sink.(PartialBatchSink); ok {
		var perEntry []error
		perEntry, err = partial.WriteBatchPartial(ctx, entries)
		for i, item := range snapshot {
			if i < len(perEntry) {
				item.handle.resolve(perEntry[i])
			} else {
				item.handle.resolve(err)
			}
		}
	} else {
		err = q.sink.WriteBatch(ctx, entries)
		for _, item := range snapshot {
			item.handle.resolve(err)
		}
	}
	metrics.FlushDuration.WithLabelValues(q.sink.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FlushErrors.WithLabelValues(q.sink.Name()).Inc()
		q.logger.Error("batch write failed",
			zap.Int("batch_size", len(entries)),
			zap.Error(err))
		return err
	}

	metrics.EntriesDelivered.WithLabelValues(q.sink.Name()).Add(float64(len(entries)))
	q.logger.Debug("batch written", zap.Int("batch_size", len(entries)))
	return nil
}

// timerFire is the recurring timer-driven flush. The timer is rearmed
// only while the queue is still active, so draining stops it without a
// racing extra fire.
func (q *DeliveryQueue) timerFire() {
	if err := q.Flush(context.Background()); err != nil {
		q.logger.Warn("timer-driven flush failed", zap.Error(err))
	}

	q.mu.Lock()
	if q.state == stateActive {
		q.timer.Reset(q.cfg.FlushInterval)
	}
	q.mu.Unlock()
}

// Shutdown drains the queue: it stops the timer, awaits any in-flight
// write, flushes whatever remains, then closes. Enqueues fail once
// draining starts. Shutdown is idempotent; concurrent and repeated
// calls all observe the first one's outcome.
func (q *DeliveryQueue) Shutdown(ctx context.Context) error {
	q.shutdownOnce.Do(func() {
		q.mu.Lock()
		q.state = stateDraining
		q.timer.Stop()
		q.mu.Unlock()

		var err error
	drain:
		for {
			q.mu.Lock()
			op := q.inflight
			pending := len(q.items)
			q.mu.Unlock()

			switch {
			case op != nil:
				select {
				case <-op.done:
				case <-ctx.Done():
					err = ctx.Err()
					break drain
				}
			case pending == 0:
				break drain
			default:
				if flushErr := q.Flush(ctx); flushErr != nil {
					// The snapshot's handles are already rejected;
					// remember the error and keep draining the rest.
					err = flushErr
				}
				if ctx.Err() != nil {
					err = ctx.Err()
					break drain
				}
			}
		}

		q.mu.Lock()
		q.state = stateClosed
		q.mu.Unlock()
		defaultRegistry.deregister(q)

		q.shutdownErr = err
		close(q.shutdownDone)
		q.logger.Info("delivery queue closed", zap.Error(err))
	})

	<-q.shutdownDone
	return q.shutdownErr
}

// QueueStats is a point-in-time snapshot of queue state.
type QueueStats struct {
	QueueSize      int  `json:"queueSize"`
	IsWriting      bool `json:"isWriting"`
	IsShuttingDown bool `json:"isShuttingDown"`
}

// Stats reports the current queue size and scheduler state.
func (q *DeliveryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		QueueSize:      len(q.items),
		IsWriting:      q.inflight != nil,
		IsShuttingDown: q.state != stateActive,
	}
}
