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

	"github.com/google/uuid"
)

// OperationContext is the ambient metadata for one logical operation:
// who acted, where from, and a group id correlating every event the
// operation produces (e.g. all writes of one database transaction).
//
// The core API passes it explicitly; the context.Context adapter below
// is a convenience layered on top, not a requirement. An
// OperationContext must not be shared mutably across concurrent
// unrelated operations.
type OperationContext struct {
	ActorID       string
	SourceAddress string
	SourceAgent   string
	Metadata      map[string]any
	GroupID       string
}

// NewOperationContext returns a context with a freshly generated
// group id. Nested sub-operations inherit the same context and
// therefore the same group id.
func NewOperationContext() *OperationContext {
	return &OperationContext{GroupID: uuid.New().String()}
}

// EnsureGroupID generates a group id if none is set yet and returns it.
func (oc *OperationContext) EnsureGroupID() string {
	if oc.GroupID == "" {
		oc.GroupID = uuid.New().String()
	}
	return oc.GroupID
}

// Merge shallow-merges partial into oc, replacing matching top-level
// fields. Metadata keys merge key-by-key with partial winning.
func (oc *OperationContext) Merge(partial *OperationContext) {
	if partial == nil {
		return
	}
	if partial.ActorID != "" {
		oc.ActorID = partial.ActorID
	}
	if partial.SourceAddress != "" {
		oc.SourceAddress = partial.SourceAddress
	}
	if partial.SourceAgent != "" {
		oc.SourceAgent = partial.SourceAgent
	}
	if partial.GroupID != "" {
		oc.GroupID = partial.GroupID
	}
	if len(partial.Metadata) > 0 {
		if oc.Metadata == nil {
			oc.Metadata = make(map[string]any, len(partial.Metadata))
		}
		for k, v := range partial.Metadata {
			if unsafeMetadataKey(k) {
				continue
			}
			oc.Metadata[k] = v
		}
	}
}

type opContextKey struct{}

// WithOperation installs an OperationContext for the dynamic extent of
// ctx. Every capture or enqueue call made with a derived context sees
// it; when the context goes out of scope the previous one applies
// again, which is how nested sub-operations inherit and restore.
func WithOperation(ctx context.Context, oc *OperationContext) context.Context {
	return context.WithValue(ctx, opContextKey{}, oc)
}

// OperationFrom returns the currently installed OperationContext, or
// nil when none is set.
func OperationFrom(ctx context.Context) *OperationContext {
	oc, _ := ctx.Value(opContextKey{}).(*OperationContext)
	return oc
}

// RunWithOperation installs oc and runs fn with the derived context,
// returning fn's error. It exists for parity with ambient-context
// runtimes; plain WithOperation covers most Go call sites.
func RunWithOperation(ctx context.Context, oc *OperationContext, fn func(ctx context.Context) error) error {
	return fn(WithOperation(ctx, oc))
}

// MergeOperation shallow-merges partial into the installed context.
// If none is installed, partial becomes the installed context on the
// returned ctx.
func MergeOperation(ctx context.Context, partial *OperationContext) context.Context {
	if oc := OperationFrom(ctx); oc != nil {
		oc.Merge(partial)
		return ctx
	}
	return WithOperation(ctx, partial)
}

// unsafeMetadataKey rejects keys that would redefine an object's
// prototype in downstream JavaScript consumers. Dropping them here is
// a hardening requirement for every metadata merge.
func unsafeMetadataKey(k string) bool {
	switch k {
	case "__proto__", "constructor", "prototype":
		return true
	}
	return false
}

// MergeMetadata combines metadata from its three sources in increasing
// precedence: logger-level defaults, the operation context, and the
// per-call map. The merge is shallow and own-keys-only, unsafe keys
// are dropped at every level, and a zero-key result is nil (the
// explicit "no metadata" value) so storage can distinguish absent from
// empty.
func MergeMetadata(defaults, operation, call map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, source := range []map[string]any{defaults, operation, call} {
		for k, v := range source {
			if unsafeMetadataKey(k) {
				continue
			}
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
