package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trailcap/trailcap/pkg/audit"
)

type captureSink struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (s *captureSink) WriteBatch(_ context.Context, entries []*audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *captureSink) Close() error { return nil }
func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) all() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func newIngestService(t *testing.T, sink audit.Sink) *audit.Service {
	t.Helper()
	svc, err := audit.NewService(sink, audit.ServiceConfig{
		Delivery: audit.DeliveryConfig{BatchSize: 100, FlushInterval: time.Hour},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func TestIngesterProcessesStream(t *testing.T) {
	sink := &captureSink{}
	svc := newIngestService(t, sink)

	stream := strings.Join([]string{
		`{"action":"create","entity":"users","records":[{"id":1,"name":"ada"}],"actorId":"alice","groupId":"g1"}`,
		``,
		`{"action":"update","entity":"users","before":[{"id":1,"name":"ada"}],"after":[{"id":1,"name":"lovelace"}]}`,
		`{"action":"remove","entity":"users","records":[{"id":1,"name":"lovelace"}]}`,
		`{"action":"login","entity":"sessions","records":[{"session_id":"s1"}]}`,
	}, "\n")

	ingester := NewIngester(strings.NewReader(stream), svc, zaptest.NewLogger(t))
	require.NoError(t, ingester.Run(context.Background()))
	require.NoError(t, svc.Flush(context.Background()))

	entries := sink.all()
	require.Len(t, entries, 4)
	assert.Equal(t, "create", entries[0].Action)
	assert.Equal(t, "alice", entries[0].ActorID)
	assert.Equal(t, "g1", entries[0].GroupID)
	assert.Equal(t, "update", entries[1].Action)
	assert.Equal(t, "remove", entries[2].Action)
	assert.Equal(t, "login", entries[3].Action)
	assert.Equal(t, "sessions", entries[3].EntityName)
}

func TestIngesterSkipsMalformedLines(t *testing.T) {
	sink := &captureSink{}
	svc := newIngestService(t, sink)

	stream := strings.Join([]string{
		`{"action":"create","entity":"users","records":[{"id":1}]}`,
		`{not json`,
		`{"action":"create","records":[{"id":2}]}`, // missing entity
		`{"entity":"users","records":[{"id":3}]}`,  // missing action
		`{"action":"create","entity":"users","records":[{"id":4}]}`,
	}, "\n")

	ingester := NewIngester(strings.NewReader(stream), svc, zaptest.NewLogger(t))
	require.NoError(t, ingester.Run(context.Background()))
	require.NoError(t, svc.Flush(context.Background()))

	entries := sink.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "1", entries[0].RecordID)
	assert.Equal(t, "4", entries[1].RecordID)
}

func TestIngesterStopsOnCancelledContext(t *testing.T) {
	sink := &captureSink{}
	svc := newIngestService(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := `{"action":"create","entity":"users","records":[{"id":1}]}` + "\n"
	ingester := NewIngester(strings.NewReader(stream), svc, zaptest.NewLogger(t))
	assert.ErrorIs(t, ingester.Run(ctx), context.Canceled)
}

func TestIngesterUpdateDiffsThroughCapture(t *testing.T) {
	sink := &captureSink{}
	svc := newIngestService(t, sink)

	// Update that changes nothing must produce no entry.
	stream := `{"action":"update","entity":"users","before":[{"id":1,"name":"x"}],"after":[{"id":1,"name":"x"}]}` + "\n"
	ingester := NewIngester(strings.NewReader(stream), svc, zaptest.NewLogger(t))
	require.NoError(t, ingester.Run(context.Background()))
	require.NoError(t, svc.Flush(context.Background()))
	assert.Empty(t, sink.all())
}
