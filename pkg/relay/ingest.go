package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/trailcap/trailcap/pkg/audit"
)

// maxLineSize bounds a single change event line (16 MiB).
const maxLineSize = 16 << 20

// ChangeEvent is the wire format of one ingested line. Create and
// remove events carry records; updates carry before/after snapshots.
// Any other action is logged as-is with the first record.
type ChangeEvent struct {
	Action string `json:"action"`
	Entity string `json:"entity"`

	Records []audit.Record `json:"records,omitempty"`
	Before  []audit.Record `json:"before,omitempty"`
	After   []audit.Record `json:"after,omitempty"`

	ActorID       string         `json:"actorId,omitempty"`
	SourceAddress string         `json:"sourceAddress,omitempty"`
	SourceAgent   string         `json:"sourceAgent,omitempty"`
	GroupID       string         `json:"groupId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Ingester decodes newline-delimited change events and feeds them to
// the audit service. Malformed lines are counted and skipped; the
// stream keeps flowing.
type Ingester struct {
	reader io.Reader
	svc    *audit.Service
	logger *zap.Logger
}

// NewIngester creates an Ingester over the given stream.
func NewIngester(reader io.Reader, svc *audit.Service, logger *zap.Logger) *Ingester {
	return &Ingester{
		reader: reader,
		svc:    svc,
		logger: logger.Named("ingest"),
	}
}

// Run consumes the stream until EOF or context cancellation.
func (i *Ingester) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(i.reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var lineNo, malformed, rejected int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event ChangeEvent
		if err := json.Unmarshal(line, &event); err != nil {
			malformed++
			i.logger.Warn("skipping malformed change event",
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}

		if err := i.dispatch(ctx, event); err != nil {
			rejected++
			i.logger.Warn("change event rejected",
				zap.Int("line", lineNo),
				zap.String("action", event.Action),
				zap.String("entity", event.Entity),
				zap.Error(err))
		}
	}

	i.logger.Info("ingest stream finished",
		zap.Int("lines", lineNo),
		zap.Int("malformed", malformed),
		zap.Int("rejected", rejected))

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading change events: %w", err)
	}
	return nil
}

func (i *Ingester) dispatch(ctx context.Context, event ChangeEvent) error {
	if event.Entity == "" {
		return fmt.Errorf("change event has no entity")
	}

	oc := &audit.OperationContext{
		ActorID:       event.ActorID,
		SourceAddress: event.SourceAddress,
		SourceAgent:   event.SourceAgent,
		GroupID:       event.GroupID,
		Metadata:      event.Metadata,
	}
	ctx = audit.WithOperation(ctx, oc)

	var err error
	switch audit.Action(event.Action) {
	case audit.ActionCreate:
		_, err = i.svc.RecordCreate(ctx, event.Entity, event.Records)
	case audit.ActionUpdate:
		_, err = i.svc.RecordUpdate(ctx, event.Entity, event.Before, event.After)
	case audit.ActionRemove:
		_, err = i.svc.RecordRemove(ctx, event.Entity, event.Records)
	default:
		if event.Action == "" {
			return fmt.Errorf("change event has no action")
		}
		var record audit.Record
		if len(event.Records) > 0 {
			record = event.Records[0]
		}
		_, err = i.svc.Log(ctx, audit.Action(event.Action), event.Entity, record, nil)
	}
	return err
}
