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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WebhookSinkConfig configures a WebhookSink.
type WebhookSinkConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookSink posts each flushed batch to an external HTTP endpoint as
// one JSON payload.
type WebhookSink struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *zap.Logger

	entriesWritten atomic.Int64
	entriesFailed  atomic.Int64
	batchesWritten atomic.Int64
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: webhook sink requires a URL", ErrInvalidConfig)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sink := &WebhookSink{
		name:       cfg.Name,
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("webhook-sink"),
	}

	sink.logger.Info("webhook audit sink created",
		zap.String("name", sink.Name()),
		zap.String("url", cfg.URL),
		zap.Duration("timeout", timeout))

	return sink, nil
}

// WriteBatch posts the batch in a single request.
func (s *WebhookSink) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	payload := struct {
		Entries []*Entry `json:"entries"`
		Count   int      `json:"count"`
	}{
		Entries: entries,
		Count:   len(entries),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.entriesFailed.Add(int64(len(entries)))
		return fmt.Errorf("failed to marshal batch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.entriesFailed.Add(int64(len(entries)))
		return fmt.Errorf("failed to create batch request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-Size", fmt.Sprintf("%d", len(entries)))
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.entriesFailed.Add(int64(len(entries)))
		s.logger.Debug("webhook batch request failed",
			zap.String("url", s.url),
			zap.Int("batch_size", len(entries)),
			zap.String("error", err.Error()))
		return fmt.Errorf("failed to send audit batch to %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		s.entriesFailed.Add(int64(len(entries)))
		s.logger.Debug("webhook returned error",
			zap.String("url", s.url),
			zap.Int("batch_size", len(entries)),
			zap.Int("status_code", resp.StatusCode))
		return fmt.Errorf("webhook %s returned error status: %d", s.url, resp.StatusCode)
	}

	s.entriesWritten.Add(int64(len(entries)))
	s.batchesWritten.Add(1)
	s.logger.Debug("webhook batch sent",
		zap.Int("batch_size", len(entries)),
		zap.Int64("total_entries", s.entriesWritten.Load()))

	return nil
}

// Stats returns the webhook sink delivery counters.
func (s *WebhookSink) Stats() (written, failed, batches int64) {
	return s.entriesWritten.Load(), s.entriesFailed.Load(), s.batchesWritten.Load()
}

// Close logs final counters; the sink holds no connections of its own.
func (s *WebhookSink) Close() error {
	s.logger.Info("closing webhook audit sink",
		zap.String("name", s.Name()),
		zap.Int64("entries_written", s.entriesWritten.Load()),
		zap.Int64("entries_failed", s.entriesFailed.Load()),
		zap.Int64("batches_written", s.batchesWritten.Load()))
	return nil
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string {
	if s.name != "" {
		return s.name
	}
	return "webhook"
}
