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

import "errors"

var (
	// ErrInvalidConfig marks configuration errors. These are fatal at
	// construction and never retried.
	ErrInvalidConfig = errors.New("audit: invalid configuration")

	// ErrQueueFull is returned when an enqueue would push the queue
	// past its configured maximum. The call is rejected as a whole;
	// no partial enqueue ever happens.
	ErrQueueFull = errors.New("audit: delivery queue full")

	// ErrShuttingDown is returned by enqueue once shutdown has begun.
	ErrShuttingDown = errors.New("audit: delivery queue is shutting down")
)
