// SPDX-FileCopyrightText: 2026 trailcap authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"string", "hello", "hello"},
		{"float", 3.14, 3.14},
		{"small int", 42, int64(42)},
		{"negative int", -7, int64(-7)},
		{"max safe int", int64(1 << 53), int64(1 << 53)},
		{"beyond safe int", int64(1<<53 + 1), "9007199254740993"},
		{"beyond safe negative", int64(-(1<<53 + 1)), "-9007199254740993"},
		{"large uint", uint64(1<<53 + 1), "9007199254740993"},
		{"duration", 90 * time.Second, "1m30s"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.input))
		})
	}
}

func TestNormalizeBigInt(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.True(t, ok)

	assert.Equal(t, "123456789012345678901234567890", Normalize(huge))
	assert.Equal(t, "42", Normalize(*big.NewInt(42)))
	assert.Nil(t, Normalize((*big.Int)(nil)))
}

func TestNormalizeTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 3, 14, 10, 30, 0, 500, loc)

	got := Normalize(ts)
	assert.Equal(t, "2026-03-14T09:30:00.0000005Z", got)

	assert.Equal(t, got, Normalize(&ts))
	assert.Nil(t, Normalize((*time.Time)(nil)))
}

func TestNormalizeJSONNumber(t *testing.T) {
	assert.Equal(t, int64(12), Normalize(json.Number("12")))
	assert.Equal(t, 1.5, Normalize(json.Number("1.5")))
	assert.Equal(t, "9007199254740993", Normalize(json.Number("9007199254740993")))
	// Does not fit int64 or float64 without mangling
	assert.Equal(t, "123456789012345678901234567890",
		Normalize(json.Number("123456789012345678901234567890")))
}

func TestNormalizeCycles(t *testing.T) {
	t.Run("self referential map", func(t *testing.T) {
		m := map[string]any{"name": "loop"}
		m["self"] = m

		got, ok := Normalize(m).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "loop", got["name"])
		assert.Equal(t, CircularSentinel, got["self"])
	})

	t.Run("mutually referential maps", func(t *testing.T) {
		a := map[string]any{}
		b := map[string]any{"a": a}
		a["b"] = b

		got, ok := Normalize(a).(map[string]any)
		require.True(t, ok)
		inner, ok := got["b"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, CircularSentinel, inner["a"])
	})

	t.Run("shared but acyclic value is not circular", func(t *testing.T) {
		shared := map[string]any{"x": 1}
		m := map[string]any{"first": shared, "second": shared}

		got, ok := Normalize(m).(map[string]any)
		require.True(t, ok)
		assert.NotEqual(t, CircularSentinel, got["first"])
		assert.NotEqual(t, CircularSentinel, got["second"])
	})

	t.Run("self referential slice", func(t *testing.T) {
		s := make([]any, 1)
		s[0] = s

		got, ok := Normalize(s).([]any)
		require.True(t, ok)
		assert.Equal(t, CircularSentinel, got[0])
	})
}

func TestNormalizeStruct(t *testing.T) {
	type inner struct {
		Count int64 `json:"count"`
	}
	type outer struct {
		Name    string `json:"name"`
		Ignored string `json:"-"`
		Nested  inner  `json:"nested"`
		private string
	}

	got, ok := Normalize(outer{Name: "n", Ignored: "x", Nested: inner{Count: 3}, private: "p"}).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "n", got["name"])
	assert.NotContains(t, got, "Ignored")
	assert.NotContains(t, got, "private")

	nested, ok := got["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(3), nested["count"])
}

func TestNormalizeRecordDoesNotMutateInput(t *testing.T) {
	ts := time.Now()
	rec := Record{"at": ts, "n": int64(1<<53 + 5)}

	out := NormalizeRecord(rec)

	assert.Equal(t, ts, rec["at"])
	assert.Equal(t, int64(1<<53+5), rec["n"])
	assert.IsType(t, "", out["at"])
	assert.IsType(t, "", out["n"])
}

func TestMarshalNeverFails(t *testing.T) {
	raw := Marshal(Record{"fn": func() {}})
	var decoded any
	require.NoError(t, json.Unmarshal(raw, &decoded))
}

func TestFingerprintStability(t *testing.T) {
	a := Record{"b": 1, "a": 2, "c": 3}
	b := Record{"c": 9, "a": 8, "b": 7}

	// Identity depends on field names and count, not values.
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(Record{"a": 1, "b": 2}))
	assert.Regexp(t, `^record:3:[0-9a-f]{16}$`, Fingerprint(a))
}
