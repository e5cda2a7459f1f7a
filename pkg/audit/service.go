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

// Package audit captures change events as structured audit entries and
// delivers them to a sink in batches.
//
// The capture side turns before/after record snapshots into minimal,
// policy-filtered events with stable record identifiers. The delivery
// side queues those events, enforces backpressure, coalesces writes
// and guarantees that no entry is lost across concurrent producers,
// timer-driven flushes and process shutdown.
//
// Usage:
//
//	svc, err := audit.NewService(audit.NewLogSink(logger), audit.ServiceConfig{
//		Delivery: audit.DeliveryConfig{BatchSize: 100, FlushInterval: time.Second},
//	}, logger)
//	// Capture changes:
//	handles, err := svc.RecordUpdate(ctx, "users", before, after)
//	// Cleanup:
//	svc.Shutdown(ctx)
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailcap/trailcap/pkg/metrics"
)

// ActorResolver resolves the acting principal for the current
// operation. It may be asynchronous (e.g. a session lookup); enqueue
// suspends on it.
type ActorResolver func(ctx context.Context) (string, error)

// MetadataProvider supplies service-level default metadata, the lowest
// precedence of the three metadata sources.
type MetadataProvider func(ctx context.Context) (map[string]any, error)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Capture  CaptureConfig
	Delivery DeliveryConfig

	// ResolveActor is consulted when the operation context carries no
	// actor id. Optional.
	ResolveActor ActorResolver

	// DefaultMetadata supplies default metadata merged under the
	// operation context's and the per-call metadata. Optional.
	DefaultMetadata MetadataProvider
}

// Service is the public face of the subsystem: it composes the
// capture engine with a delivery queue over one sink.
type Service struct {
	capture         CaptureConfig
	queue           *DeliveryQueue
	sink            Sink
	resolveActor    ActorResolver
	defaultMetadata MetadataProvider
	logger          *zap.Logger
}

// NewService validates the configuration and starts the delivery
// queue. Configuration errors are fatal here, never at runtime.
func NewService(sink Sink, cfg ServiceConfig, logger *zap.Logger) (*Service, error) {
	if err := cfg.Capture.Validate(); err != nil {
		return nil, err
	}
	queue, err := NewDeliveryQueue(sink, cfg.Delivery, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		capture:         cfg.Capture,
		queue:           queue,
		sink:            sink,
		resolveActor:    cfg.ResolveActor,
		defaultMetadata: cfg.DefaultMetadata,
		logger:          logger.Named("audit-service"),
	}, nil
}

// RecordCreate captures inserted records and enqueues the resulting
// events.
func (s *Service) RecordCreate(ctx context.Context, entity string, records []Record) ([]*Handle, error) {
	return s.EnqueueEvents(ctx, s.capture.CaptureCreate(entity, records))
}

// RecordUpdate captures an update from before/after snapshots and
// enqueues the resulting events. Zero events (an update that changed
// nothing in "changed" mode) is a valid, silent outcome.
func (s *Service) RecordUpdate(ctx context.Context, entity string, before, after []Record) ([]*Handle, error) {
	return s.EnqueueEvents(ctx, s.capture.CaptureUpdate(entity, before, after))
}

// RecordRemove captures deleted records and enqueues the resulting
// events.
func (s *Service) RecordRemove(ctx context.Context, entity string, records []Record) ([]*Handle, error) {
	return s.EnqueueEvents(ctx, s.capture.CaptureRemove(entity, records))
}

// Log enqueues one manually constructed event with a custom action.
// Metadata attached here takes precedence over operation-context and
// default metadata.
func (s *Service) Log(ctx context.Context, action Action, entity string, record Record, metadata map[string]any) (*Handle, error) {
	event := &Event{
		Action:     action,
		EntityName: entity,
		RecordID:   s.capture.ResolveRecordID(record, entity),
		Values:     NormalizeRecord(s.capture.ApplyFieldPolicy(record, entity)),
		Metadata:   metadata,
	}
	handles, err := s.EnqueueEvents(ctx, []*Event{event})
	if err != nil {
		return nil, err
	}
	return handles[0], nil
}

// EnqueueEvents enriches events with the resolved actor and merged
// metadata, then hands them to the delivery queue. The whole call is
// rejected before anything is queued if the queue lacks capacity.
func (s *Service) EnqueueEvents(ctx context.Context, events []*Event) ([]*Handle, error) {
	if len(events) == 0 {
		return nil, nil
	}

	entries := make([]*Entry, 0, len(events))
	for _, event := range events {
		entry, err := s.buildEntry(ctx, event)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		metrics.EventsCaptured.WithLabelValues(string(event.Action)).Inc()
	}
	return s.queue.Enqueue(ctx, entries)
}

// WriteDirect bypasses the queue and writes events to the sink
// immediately, for callers that need the write acknowledged inline.
func (s *Service) WriteDirect(ctx context.Context, events []*Event) error {
	entries := make([]*Entry, 0, len(events))
	for _, event := range events {
		entry, err := s.buildEntry(ctx, event)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		metrics.EventsCaptured.WithLabelValues(string(event.Action)).Inc()
	}
	if len(entries) == 0 {
		return nil
	}
	return s.sink.WriteBatch(ctx, entries)
}

// buildEntry finalizes one event into its storage row: actor and
// origin from the operation context (falling back to the resolver for
// the actor), three-way metadata merge, serialized payload.
func (s *Service) buildEntry(ctx context.Context, event *Event) (*Entry, error) {
	oc := OperationFrom(ctx)

	var actorID, sourceAddress, sourceAgent, groupID string
	var opMetadata map[string]any
	if oc != nil {
		actorID = oc.ActorID
		sourceAddress = oc.SourceAddress
		sourceAgent = oc.SourceAgent
		groupID = oc.GroupID
		opMetadata = oc.Metadata
	}
	if actorID == "" && s.resolveActor != nil {
		resolved, err := s.resolveActor(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve actor: %w", err)
		}
		actorID = resolved
	}

	var defaults map[string]any
	if s.defaultMetadata != nil {
		provided, err := s.defaultMetadata(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default metadata: %w", err)
		}
		defaults = provided
	}

	entry := &Entry{
		ID:            uuid.New().String(),
		ActorID:       actorID,
		SourceAddress: sourceAddress,
		SourceAgent:   sourceAgent,
		Action:        string(event.Action),
		EntityName:    event.EntityName,
		RecordID:      event.RecordID,
		Values:        marshalEventValues(event),
		GroupID:       groupID,
		CreatedAt:     time.Now().UTC(),
	}
	if merged := MergeMetadata(defaults, opMetadata, event.Metadata); merged != nil {
		entry.Metadata = Marshal(merged)
	}
	return entry, nil
}

// marshalEventValues serializes the event payload. Two-sided change
// events keep old values and the changed-field list alongside the new
// values; removes carry the deleted record under "old".
func marshalEventValues(event *Event) json.RawMessage {
	switch {
	case len(event.ChangedFields) > 0:
		return Marshal(map[string]any{
			"new":     event.Values,
			"old":     event.OldValues,
			"changed": event.ChangedFields,
		})
	case event.Values == nil && event.OldValues != nil:
		return Marshal(map[string]any{"old": event.OldValues})
	default:
		return Marshal(event.Values)
	}
}

// Flush delivers everything currently queued.
func (s *Service) Flush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

// Shutdown drains the queue and closes the sink. Idempotent.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.queue.Shutdown(ctx)
	if closeErr := s.sink.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Stats reports the delivery queue state.
func (s *Service) Stats() QueueStats {
	return s.queue.Stats()
}
