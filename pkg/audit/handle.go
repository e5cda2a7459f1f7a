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
	"sync"
)

// Handle is the completion handle for one enqueued entry. Every
// enqueued entry is eventually either resolved or rejected, exactly
// once; no entry is ever silently dropped.
type Handle struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// resolve completes the handle. A nil err resolves it, a non-nil err
// rejects it. Later calls are no-ops.
func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

// Done returns a channel closed once the entry has been delivered or
// rejected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the delivery error, or nil. Valid after Done is closed;
// before that it reports nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the entry is delivered or rejected, or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
