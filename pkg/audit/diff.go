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

import "sort"

// CaptureCreate produces one event per inserted record. Payloads are
// policy-filtered; record ids resolve per the identity rules.
func (c CaptureConfig) CaptureCreate(entity string, records []Record) []*Event {
	events := make([]*Event, 0, len(records))
	for _, rec := range records {
		events = append(events, &Event{
			Action:     ActionCreate,
			EntityName: entity,
			RecordID:   c.ResolveRecordID(rec, entity),
			Values:     NormalizeRecord(c.ApplyFieldPolicy(rec, entity)),
		})
	}
	return events
}

// CaptureRemove produces one event per deleted record, carrying the
// filtered deleted record as its old values.
func (c CaptureConfig) CaptureRemove(entity string, records []Record) []*Event {
	events := make([]*Event, 0, len(records))
	for _, rec := range records {
		events = append(events, &Event{
			Action:     ActionRemove,
			EntityName: entity,
			RecordID:   c.ResolveRecordID(rec, entity),
			OldValues:  NormalizeRecord(c.ApplyFieldPolicy(rec, entity)),
		})
	}
	return events
}

// CaptureUpdate produces events for an update operation.
//
// In "full" mode, or whenever no before-state at all is available,
// every after-record yields one event carrying the filtered
// after-record; no comparison is attempted.
//
// In "changed" mode, after-records are matched to before-records by
// resolved identity. Matched pairs emit an event only when at least
// one field differs, and the payload carries just the changed fields
// (new values), the old values of those fields, and the sorted list of
// changed field names. An after-record with no before match falls back
// to the full filtered after-record — per record, not per batch, even
// when its siblings diff normally.
func (c CaptureConfig) CaptureUpdate(entity string, before, after []Record) []*Event {
	if c.updateMode() == UpdateValuesFull || len(before) == 0 {
		events := make([]*Event, 0, len(after))
		for _, rec := range after {
			events = append(events, &Event{
				Action:     ActionUpdate,
				EntityName: entity,
				RecordID:   c.ResolveRecordID(rec, entity),
				Values:     NormalizeRecord(c.ApplyFieldPolicy(rec, entity)),
			})
		}
		return events
	}

	// Index before-records by identity up front so matching stays
	// linear in the batch size.
	beforeByID := make(map[string]Record, len(before))
	for _, rec := range before {
		beforeByID[c.ResolveRecordID(rec, entity)] = rec
	}

	var events []*Event
	for _, rec := range after {
		id := c.ResolveRecordID(rec, entity)
		prev, matched := beforeByID[id]
		if !matched {
			// "changed" cannot be computed for this record; emit the
			// full after-record instead.
			events = append(events, &Event{
				Action:     ActionUpdate,
				EntityName: entity,
				RecordID:   id,
				Values:     NormalizeRecord(c.ApplyFieldPolicy(rec, entity)),
			})
			continue
		}

		oldFiltered := c.ApplyFieldPolicy(prev, entity)
		newFiltered := c.ApplyFieldPolicy(rec, entity)
		changedNew, changedOld, changedFields := diffRecords(oldFiltered, newFiltered)
		if len(changedFields) == 0 {
			// Nothing changed; silence is the correct outcome.
			continue
		}

		events = append(events, &Event{
			Action:        ActionUpdate,
			EntityName:    entity,
			RecordID:      id,
			Values:        changedNew,
			OldValues:     changedOld,
			ChangedFields: changedFields,
		})
	}
	return events
}

// diffRecords computes the field-level difference between two filtered
// records using deep structural equality. Fields present only on one
// side count as changed.
func diffRecords(oldRec, newRec Record) (changedNew, changedOld Record, fields []string) {
	changedNew = make(Record)
	changedOld = make(Record)

	for field, newVal := range newRec {
		oldVal, existed := oldRec[field]
		if existed && valuesEqual(oldVal, newVal) {
			continue
		}
		fields = append(fields, field)
		changedNew[field] = Normalize(newVal)
		if existed {
			changedOld[field] = Normalize(oldVal)
		}
	}
	for field, oldVal := range oldRec {
		if _, stillThere := newRec[field]; stillThere {
			continue
		}
		fields = append(fields, field)
		changedOld[field] = Normalize(oldVal)
		changedNew[field] = nil
	}

	sort.Strings(fields)
	return changedNew, changedOld, fields
}
