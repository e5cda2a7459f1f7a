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

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink is the destination for flushed batches. WriteBatch delivering
// without error is the sink's acknowledgment that every entry in the
// batch is persisted; its failure is the only expected failure mode of
// a flush.
type Sink interface {
	// WriteBatch persists one flush snapshot, in order.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// PartialBatchSink is an optional interface for sinks that can fail
// parts of a batch independently. The returned slice carries one error
// (or nil) per entry, in entry order; the second return is the
// aggregate failure for the flush as a whole.
type PartialBatchSink interface {
	Sink
	WriteBatchPartial(ctx context.Context, entries []*Entry) ([]error, error)
}

// LogSink writes entries to a structured logger. Useful as a default
// destination and in development.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// WriteBatch logs every entry in the batch.
func (s *LogSink) WriteBatch(_ context.Context, entries []*Entry) error {
	for _, entry := range entries {
		fields := []zap.Field{
			zap.String("entry_id", entry.ID),
			zap.String("action", entry.Action),
			zap.String("entity", entry.EntityName),
			zap.String("record_id", entry.RecordID),
			zap.Time("created_at", entry.CreatedAt),
		}
		if entry.ActorID != "" {
			fields = append(fields, zap.String("actor_id", entry.ActorID))
		}
		if entry.SourceAddress != "" {
			fields = append(fields, zap.String("source_address", entry.SourceAddress))
		}
		if entry.GroupID != "" {
			fields = append(fields, zap.String("group_id", entry.GroupID))
		}
		if len(entry.Values) > 0 {
			fields = append(fields, zap.String("values", string(entry.Values)))
		}
		if len(entry.Metadata) > 0 {
			fields = append(fields, zap.String("metadata", string(entry.Metadata)))
		}
		s.logger.Info("audit_entry", fields...)
	}
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// DeliverFunc is a user-supplied delivery function for GroupedSink. It
// is invoked once per context group; every entry it sees shares the
// same actor and group id.
type DeliverFunc func(ctx context.Context, entries []*Entry) error

// GroupedSink partitions each flush snapshot by actor id + group id
// and invokes the delivery function once per group, in the order the
// groups first appear in the snapshot. One group failing rejects only
// that group's entries; the other groups deliver (or fail)
// independently, and the flush surfaces the aggregate error.
type GroupedSink struct {
	name    string
	deliver DeliverFunc
	logger  *zap.Logger
}

// NewGroupedSink creates a GroupedSink around a delivery function.
func NewGroupedSink(name string, deliver DeliverFunc, logger *zap.Logger) (*GroupedSink, error) {
	if deliver == nil {
		return nil, fmt.Errorf("%w: grouped sink requires a delivery function", ErrInvalidConfig)
	}
	if name == "" {
		name = "grouped"
	}
	return &GroupedSink{
		name:    name,
		deliver: deliver,
		logger:  logger.Named("grouped-sink").With(zap.String("sink", name)),
	}, nil
}

func groupKey(entry *Entry) string {
	return entry.ActorID + "\x00" + entry.GroupID
}

// WriteBatchPartial implements per-group delivery with per-entry
// results.
func (s *GroupedSink) WriteBatchPartial(ctx context.Context, entries []*Entry) ([]error, error) {
	type group struct {
		entries []*Entry
		indexes []int
	}

	var order []string
	groups := make(map[string]*group)
	for i, entry := range entries {
		key := groupKey(entry)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.entries = append(g.entries, entry)
		g.indexes = append(g.indexes, i)
	}

	perEntry := make([]error, len(entries))
	var aggregate error
	for _, key := range order {
		g := groups[key]
		err := s.deliverGroup(ctx, g.entries)
		if err != nil {
			s.logger.Warn("group delivery failed",
				zap.Int("group_size", len(g.entries)),
				zap.String("actor_id", g.entries[0].ActorID),
				zap.String("group_id", g.entries[0].GroupID),
				zap.Error(err))
			aggregate = multierr.Append(aggregate, err)
		}
		for _, idx := range g.indexes {
			perEntry[idx] = err
		}
	}
	return perEntry, aggregate
}

// deliverGroup shields the pipeline from panics in user code: a
// panicking delivery function fails its own group and nothing else.
func (s *GroupedSink) deliverGroup(ctx context.Context, entries []*Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit: delivery function panicked: %v", r)
		}
	}()
	return s.deliver(ctx, entries)
}

// WriteBatch satisfies Sink for callers that don't need per-entry
// results.
func (s *GroupedSink) WriteBatch(ctx context.Context, entries []*Entry) error {
	_, err := s.WriteBatchPartial(ctx, entries)
	return err
}

// Close is a no-op for GroupedSink.
func (s *GroupedSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *GroupedSink) Name() string {
	return s.name
}
