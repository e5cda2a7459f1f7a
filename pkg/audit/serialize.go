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
	"hash/fnv"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CircularSentinel replaces a value that has already been visited on
// the current path, so self-referential graphs serialize instead of
// recursing forever.
const CircularSentinel = "[Circular]"

// maxSafeInteger is the largest integer a float64 (and therefore a
// plain JSON number) can represent without losing precision.
const maxSafeInteger = 1 << 53

// Normalize converts an arbitrary value into a JSON-safe shape:
// integers beyond float64 precision and big.Ints become strings,
// time values become canonical UTC RFC 3339, self references become
// the circular sentinel, and unsupported types degrade to their
// string form. It never panics.
func Normalize(v any) any {
	return normalize(v, make(map[uintptr]bool))
}

// NormalizeRecord normalizes every field of a record. The input is
// never mutated.
func NormalizeRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = Normalize(v)
	}
	return out
}

func normalize(v any, seen map[uintptr]bool) (out any) {
	// Serialization is a total function: whatever a reflective edge
	// case throws at us, the caller still gets a value back.
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprintf("%v", v)
		}
	}()

	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, float32:
		return t
	case float64:
		return t
	case int:
		return normalizeInt64(int64(t))
	case int8, int16, int32:
		return v
	case int64:
		return normalizeInt64(t)
	case uint, uintptr:
		return normalizeUint64(reflect.ValueOf(v).Uint())
	case uint8, uint16, uint32:
		return v
	case uint64:
		return normalizeUint64(t)
	case json.Number:
		return normalizeJSONNumber(t)
	case *big.Int:
		if t == nil {
			return nil
		}
		return t.String()
	case big.Int:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.String()
	case []byte:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		if rv.Kind() == reflect.Pointer {
			ptr := rv.Pointer()
			if seen[ptr] {
				return CircularSentinel
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return normalize(rv.Elem().Interface(), seen)

	case reflect.Map:
		ptr := rv.Pointer()
		if seen[ptr] {
			return CircularSentinel
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			out[key] = normalize(iter.Value().Interface(), seen)
		}
		return out

	case reflect.Slice:
		ptr := rv.Pointer()
		if seen[ptr] {
			return CircularSentinel
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return normalizeList(rv, seen)

	case reflect.Array:
		return normalizeList(rv, seen)

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok {
				if tag == "-" {
					continue
				}
				if comma := strings.IndexByte(tag, ','); comma >= 0 {
					tag = tag[:comma]
				}
				if tag != "" {
					name = tag
				}
			}
			out[name] = normalize(rv.Field(i).Interface(), seen)
		}
		return out

	default:
		return fmt.Sprintf("%v", v)
	}
}

func normalizeList(rv reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = normalize(rv.Index(i).Interface(), seen)
	}
	return out
}

func normalizeInt64(n int64) any {
	if n > maxSafeInteger || n < -maxSafeInteger {
		return strconv.FormatInt(n, 10)
	}
	return n
}

func normalizeUint64(n uint64) any {
	if n > maxSafeInteger {
		return strconv.FormatUint(n, 10)
	}
	return n
}

func normalizeJSONNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return normalizeInt64(i)
	}
	if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	// Arbitrary-precision literal that fits neither int64 nor float64;
	// keep the digits as a string.
	return n.String()
}

// Marshal serializes an already-normalized value. It never fails: if
// encoding still errors, the result is the record fingerprint quoted
// as a JSON string.
func Marshal(v any) json.RawMessage {
	normalized := Normalize(v)
	raw, err := json.Marshal(normalized)
	if err != nil {
		quoted, _ := json.Marshal(fingerprintValue(v))
		return quoted
	}
	return raw
}

// Fingerprint builds a stable hash-like string from a record's sorted
// field names and field count. It is the last-resort identity for
// records that resist serialization.
func Fingerprint(rec Record) string {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("record:%d:%016x", len(rec), h.Sum64())
}

func fingerprintValue(v any) string {
	if rec, ok := v.(Record); ok {
		return Fingerprint(rec)
	}
	if m, ok := v.(map[string]any); ok {
		return Fingerprint(Record(m))
	}
	return fmt.Sprintf("value:%T", v)
}
