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
	"encoding/json"
	"fmt"
	"time"
)

// Action identifies the kind of change an event captures.
// The three canonical actions cover row-level mutations; arbitrary
// strings are accepted for manually logged custom actions.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
)

// UpdateValuesMode controls what an update event carries.
type UpdateValuesMode string

const (
	// UpdateValuesFull emits the full after-record on every update.
	UpdateValuesFull UpdateValuesMode = "full"

	// UpdateValuesChanged matches after-records to before-records by
	// identity and emits only the fields that actually changed. An
	// update that changed nothing emits no event at all.
	UpdateValuesChanged UpdateValuesMode = "changed"
)

// Event is one captured change. Events are immutable after creation
// and consumed exactly once, either by an immediate sink write or via
// the delivery queue.
type Event struct {
	// Action is the operation kind ("create", "update", "remove") or a
	// custom action string for manually logged events.
	Action Action `json:"action"`

	// EntityName is the logical table/collection name.
	EntityName string `json:"entityName"`

	// RecordID is the stable identifier of the affected instance.
	RecordID string `json:"recordId"`

	// Values is the policy-filtered payload. For updates in "changed"
	// mode it holds only the fields that differ.
	Values Record `json:"values,omitempty"`

	// OldValues holds the previous values of the changed fields
	// (updates in "changed" mode) or the full deleted record (removes).
	OldValues Record `json:"oldValues,omitempty"`

	// ChangedFields lists the field names that differ between the
	// before and after records, sorted. Only set in "changed" mode.
	ChangedFields []string `json:"changedFields,omitempty"`

	// Metadata carries free-form key/value data attached directly to
	// the capture call. It is merged with operation-context and
	// default metadata when the event is finalized.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Entry is the storage-facing row shape, one per delivered Event. The
// event payloads have already been run through the serializer, so both
// documents are safe to hand to any JSON-speaking sink.
type Entry struct {
	ID            string          `json:"id"`
	ActorID       string          `json:"actorId,omitempty"`
	SourceAddress string          `json:"sourceAddress,omitempty"`
	SourceAgent   string          `json:"sourceAgent,omitempty"`
	Action        string          `json:"action"`
	EntityName    string          `json:"entityName"`
	RecordID      string          `json:"recordId"`
	Values        json.RawMessage `json:"values"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	GroupID       string          `json:"groupId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	DeletedAt     *time.Time      `json:"deletedAt,omitempty"`
}

// DeliveryConfig configures the delivery queue and batch scheduler.
// It is immutable once validated; invalid values are a construction
// error, never a runtime failure.
type DeliveryConfig struct {
	// BatchSize triggers a flush once the queue reaches this many
	// pending entries. Must be > 0.
	BatchSize int

	// FlushInterval is the recurring timer-driven flush period.
	// Must be > 0.
	FlushInterval time.Duration

	// MaxQueueSize bounds the number of pending entries. An enqueue
	// that would exceed it is rejected as a whole. 0 means unbounded.
	MaxQueueSize int

	// Strict propagates delivery errors to the caller that triggered
	// the write instead of only logging them.
	Strict bool

	// WaitForWrite makes enqueue await any flush it triggers before
	// returning.
	WaitForWrite bool
}

// Validate checks the configuration. Violations are fatal at
// construction time.
func (c DeliveryConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive, got %s", ErrInvalidConfig, c.FlushInterval)
	}
	if c.MaxQueueSize < 0 {
		return fmt.Errorf("%w: max queue size must not be negative, got %d", ErrInvalidConfig, c.MaxQueueSize)
	}
	return nil
}

// KeySpec names the field(s) that identify an entity instance.
// A single field yields that field's stringified value; multiple
// fields yield a deterministic serialization of the ordered
// field-to-value mapping.
type KeySpec struct {
	Fields []string
}

// CaptureConfig configures the diff/capture engine: which fields
// survive filtering, how record identity is derived, and how updates
// are diffed.
type CaptureConfig struct {
	// AllowedFields maps an entity name to the only fields that may
	// appear in captured payloads for that entity. Entities without an
	// entry are not allow-filtered.
	AllowedFields map[string][]string

	// DeniedFields are removed from every captured payload regardless
	// of entity.
	DeniedFields []string

	// Keys maps an entity name to its identity key specification.
	Keys map[string]KeySpec

	// UpdateValuesMode selects full-record or changed-field update
	// payloads. Defaults to UpdateValuesChanged.
	UpdateValuesMode UpdateValuesMode
}

// Validate checks the capture configuration.
func (c CaptureConfig) Validate() error {
	for entity, fields := range c.AllowedFields {
		if len(fields) == 0 {
			return fmt.Errorf("%w: allow-list for entity %q is empty", ErrInvalidConfig, entity)
		}
	}
	for entity, spec := range c.Keys {
		if len(spec.Fields) == 0 {
			return fmt.Errorf("%w: key spec for entity %q names no fields", ErrInvalidConfig, entity)
		}
	}
	switch c.UpdateValuesMode {
	case "", UpdateValuesFull, UpdateValuesChanged:
	default:
		return fmt.Errorf("%w: unknown update values mode %q", ErrInvalidConfig, c.UpdateValuesMode)
	}
	return nil
}

func (c CaptureConfig) updateMode() UpdateValuesMode {
	if c.UpdateValuesMode == "" {
		return UpdateValuesChanged
	}
	return c.UpdateValuesMode
}
