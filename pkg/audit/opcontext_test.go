// SPDX-FileCopyrightText: 2026 trailcap authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMetadataPrecedence(t *testing.T) {
	merged := MergeMetadata(
		map[string]any{"a": 1, "b": 1, "c": 1},
		map[string]any{"b": 2, "c": 2},
		map[string]any{"c": 3},
	)

	assert.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, merged)
}

func TestMergeMetadataEmptyIsNil(t *testing.T) {
	assert.Nil(t, MergeMetadata(nil, nil, nil))
	assert.Nil(t, MergeMetadata(map[string]any{}, map[string]any{}, nil))

	// All keys dropped as unsafe still yields nil.
	assert.Nil(t, MergeMetadata(map[string]any{"__proto__": 1}, nil, nil))
}

func TestMergeMetadataDropsUnsafeKeys(t *testing.T) {
	merged := MergeMetadata(
		map[string]any{"safe": 1},
		map[string]any{"__proto__": "x", "constructor": "y"},
		map[string]any{"prototype": "z", "also": 2},
	)

	assert.Equal(t, map[string]any{"safe": 1, "also": 2}, merged)
}

func TestOperationContextMerge(t *testing.T) {
	oc := &OperationContext{
		ActorID:  "alice",
		Metadata: map[string]any{"k": "v"},
		GroupID:  "g1",
	}

	oc.Merge(&OperationContext{
		SourceAddress: "10.0.0.1",
		Metadata:      map[string]any{"k": "v2", "extra": true, "__proto__": "evil"},
	})

	assert.Equal(t, "alice", oc.ActorID)
	assert.Equal(t, "10.0.0.1", oc.SourceAddress)
	assert.Equal(t, "g1", oc.GroupID)
	assert.Equal(t, map[string]any{"k": "v2", "extra": true}, oc.Metadata)

	// Merging nil is a no-op.
	oc.Merge(nil)
	assert.Equal(t, "alice", oc.ActorID)
}

func TestNewOperationContextGeneratesGroupID(t *testing.T) {
	a := NewOperationContext()
	b := NewOperationContext()
	assert.NotEmpty(t, a.GroupID)
	assert.NotEqual(t, a.GroupID, b.GroupID)
}

func TestEnsureGroupID(t *testing.T) {
	oc := &OperationContext{}
	id := oc.EnsureGroupID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, oc.EnsureGroupID())
}

func TestWithOperationScoping(t *testing.T) {
	base := context.Background()
	assert.Nil(t, OperationFrom(base))

	outer := NewOperationContext()
	outerCtx := WithOperation(base, outer)
	assert.Same(t, outer, OperationFrom(outerCtx))

	// A nested context shadows; the outer one is restored by simply
	// using the outer ctx again.
	inner := NewOperationContext()
	innerCtx := WithOperation(outerCtx, inner)
	assert.Same(t, inner, OperationFrom(innerCtx))
	assert.Same(t, outer, OperationFrom(outerCtx))
}

func TestRunWithOperation(t *testing.T) {
	oc := NewOperationContext()
	sentinel := errors.New("done")

	err := RunWithOperation(context.Background(), oc, func(ctx context.Context) error {
		require.Same(t, oc, OperationFrom(ctx))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestMergeOperation(t *testing.T) {
	t.Run("merges into installed context", func(t *testing.T) {
		oc := &OperationContext{ActorID: "alice"}
		ctx := WithOperation(context.Background(), oc)

		out := MergeOperation(ctx, &OperationContext{SourceAgent: "cli"})

		assert.Equal(t, ctx, out)
		assert.Equal(t, "alice", oc.ActorID)
		assert.Equal(t, "cli", oc.SourceAgent)
	})

	t.Run("installs when none present", func(t *testing.T) {
		partial := &OperationContext{ActorID: "bob"}
		out := MergeOperation(context.Background(), partial)
		assert.Same(t, partial, OperationFrom(out))
	})
}
