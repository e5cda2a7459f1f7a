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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// shutdownGrace bounds how long signal-triggered draining may take
// before the process is allowed to exit anyway.
const shutdownGrace = 10 * time.Second

// shutdownRegistry tracks every live delivery queue so a single set of
// process-exit signal handlers can drain them all. The handlers are
// installed lazily when the first queue registers and fully removed
// when the last one deregisters; multiple coexisting queues never
// cause duplicate handlers.
//
// It is an explicit object rather than loose module-level flags so the
// install/uninstall lifecycle is testable in isolation.
type shutdownRegistry struct {
	mu        sync.Mutex
	instances map[*DeliveryQueue]struct{}
	sigCh     chan os.Signal
	stopWatch chan struct{}
}

var defaultRegistry = newShutdownRegistry()

func newShutdownRegistry() *shutdownRegistry {
	return &shutdownRegistry{instances: make(map[*DeliveryQueue]struct{})}
}

func (r *shutdownRegistry) register(q *DeliveryQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.instances[q] = struct{}{}
	if r.sigCh != nil {
		return
	}

	r.sigCh = make(chan os.Signal, 1)
	r.stopWatch = make(chan struct{})
	signal.Notify(r.sigCh, os.Interrupt, syscall.SIGTERM)
	go r.watch(r.sigCh, r.stopWatch)
}

func (r *shutdownRegistry) deregister(q *DeliveryQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.instances, q)
	if len(r.instances) > 0 || r.sigCh == nil {
		return
	}

	signal.Stop(r.sigCh)
	close(r.stopWatch)
	r.sigCh = nil
	r.stopWatch = nil
}

// watch drains every live queue when a termination signal arrives.
func (r *shutdownRegistry) watch(sigCh chan os.Signal, stop chan struct{}) {
	select {
	case <-sigCh:
	case <-stop:
		return
	}

	r.mu.Lock()
	queues := make([]*DeliveryQueue, 0, len(r.instances))
	for q := range r.instances {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *DeliveryQueue) {
			defer wg.Done()
			_ = q.Shutdown(ctx)
		}(q)
	}
	wg.Wait()
}

// liveInstances reports how many queues are currently registered.
func (r *shutdownRegistry) liveInstances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// handlersInstalled reports whether the signal handlers are currently
// installed.
func (r *shutdownRegistry) handlersInstalled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sigCh != nil
}
