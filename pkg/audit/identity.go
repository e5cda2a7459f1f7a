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
	"strings"
)

// ResolveRecordID derives a stable string identifier for an entity
// instance. It is a pure function of the record and key spec and
// never fails: any record, however malformed, resolves to some
// deterministic id.
//
// Resolution order without a key spec: fields named "id",
// "<entity>_id", "uuid", "pk"; then the first field (alphabetically)
// whose name case-insensitively ends in "id"; then a deterministic
// serialization of the whole record.
func (c CaptureConfig) ResolveRecordID(rec Record, entity string) string {
	if spec, ok := c.Keys[entity]; ok && len(spec.Fields) > 0 {
		return resolveFromSpec(rec, spec)
	}

	for _, name := range []string{"id", entity + "_id", "uuid", "pk"} {
		if v, ok := rec[name]; ok && v != nil {
			return stringifyScalar(v)
		}
	}

	if name, ok := firstIDSuffixField(rec); ok {
		return stringifyScalar(rec[name])
	}

	return serializeWholeRecord(rec)
}

func resolveFromSpec(rec Record, spec KeySpec) string {
	if len(spec.Fields) == 1 {
		return stringifyScalar(rec[spec.Fields[0]])
	}

	// Composite key: deterministic serialization of the ordered
	// field-to-value map, in spec order.
	var b strings.Builder
	b.WriteByte('{')
	for i, field := range spec.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(field)
		b.Write(key)
		b.WriteByte(':')
		val, err := json.Marshal(Normalize(rec[field]))
		if err != nil {
			val, _ = json.Marshal(fmt.Sprintf("%v", rec[field]))
		}
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}

// firstIDSuffixField returns the alphabetically first field whose name
// case-insensitively ends in "id". Alphabetical order keeps the
// fallback deterministic across map iteration orders.
func firstIDSuffixField(rec Record) (string, bool) {
	best := ""
	for name := range rec {
		if !strings.HasSuffix(strings.ToLower(name), "id") {
			continue
		}
		if best == "" || name < best {
			best = name
		}
	}
	return best, best != ""
}

func serializeWholeRecord(rec Record) string {
	raw, err := json.Marshal(sortedNormalized(rec))
	if err != nil {
		return Fingerprint(rec)
	}
	return string(raw)
}

// sortedNormalized produces a field-order-stable representation for
// whole-record serialization. encoding/json already sorts map keys,
// so normalizing is enough; the indirection exists so a marshal
// failure can still fall back to the fingerprint.
func sortedNormalized(rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = Normalize(v)
	}
	return out
}

func stringifyScalar(v any) string {
	switch t := Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return strings.Trim(string(raw), `"`)
	}
}
