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

import "reflect"

// Record is a schema-less entity snapshot: field name to value.
// Values may be scalars, nested maps, lists, byte slices or time
// values; the serializer makes them all transport-safe.
type Record map[string]any

// Clone returns a shallow copy. Callers' records are never mutated by
// any part of the capture pipeline.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// valuesEqual reports deep structural equality of two field values.
// Both sides are normalized first so that equivalent representations
// (time.Time vs its RFC 3339 string, big ints vs their digits) compare
// equal the same way they serialize.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}
