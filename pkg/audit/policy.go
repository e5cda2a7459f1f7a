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

// ApplyFieldPolicy filters a record through the global deny-list and
// the entity's allow-list, in that order. The result is a shallow
// copy; the caller's record is never mutated. Unknown keys in either
// list are ignored, so filtering has no error conditions.
func (c CaptureConfig) ApplyFieldPolicy(rec Record, entity string) Record {
	if rec == nil {
		return nil
	}

	out := rec.Clone()
	for _, denied := range c.DeniedFields {
		delete(out, denied)
	}

	allowed, ok := c.AllowedFields[entity]
	if !ok {
		return out
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = struct{}{}
	}
	for k := range out {
		if _, keep := allowedSet[k]; !keep {
			delete(out, k)
		}
	}
	return out
}
