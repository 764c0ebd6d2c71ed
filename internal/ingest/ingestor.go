// Package ingest is the first pipeline stage: it validates inbound events,
// persists them durably, and hands references to the effect-application
// stage. It never blocks on downstream processing.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamestate/internal/db"
	"gamestate/internal/engine"
	"gamestate/internal/event"
	"gamestate/internal/logging"
)

const (
	initialBackoff = 250 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// RawEventSink persists raw events durably.
type RawEventSink interface {
	Insert(ctx context.Context, rec db.EventRecord) (bool, error)
}

// Publisher enqueues work-queue payloads.
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload []byte) error
}

// Ingestor handles raw events from the inbound transport.
type Ingestor struct {
	ctx          context.Context
	sink         RawEventSink
	publisher    Publisher
	updatesQueue string
	logger       logging.Interface
}

// New creates an Ingestor publishing references to updatesQueue.
func New(ctx context.Context, sink RawEventSink, publisher Publisher, updatesQueue string) *Ingestor {
	return &Ingestor{
		ctx:          ctx,
		sink:         sink,
		publisher:    publisher,
		updatesQueue: updatesQueue,
		logger:       logging.For("ingest"),
	}
}

// Handle ingests one raw event body: persist always, enqueue only when the
// event validates. Store and enqueue failures are retried indefinitely since
// no event may be silently lost; only context cancellation stops the retry.
func (in *Ingestor) Handle(raw []byte) error {
	id := event.ID(raw)

	ev, decodeErr := event.Decode(id, raw)

	rec := db.EventRecord{ID: id, EventType: string(event.TypeUnknown), Body: raw}
	if ev != nil {
		rec.MatchID = ev.MatchID
		rec.EventType = string(ev.Type)
	} else {
		// Keep whatever envelope fields survive for the audit row.
		var env event.Envelope
		if json.Unmarshal(raw, &env) == nil {
			rec.MatchID = env.MatchID
			if env.Type != "" {
				rec.EventType = env.Type
			}
		}
	}

	var inserted bool
	err := in.retry("persist event", func() error {
		var err error
		inserted, err = in.sink.Insert(in.ctx, rec)
		return err
	})
	if err != nil {
		return err
	}
	if !inserted {
		in.logger.Debugf("event %s re-delivered, store write was a no-op", id)
	}

	if decodeErr != nil {
		in.logger.Warnf("event %s persisted but not applicable: %v", id, decodeErr)
		return nil
	}

	ref, err := json.Marshal(engine.Reference{MatchID: ev.MatchID, EventID: id.String()})
	if err != nil {
		return fmt.Errorf("marshal reference for %s: %w", id, err)
	}

	return in.retry("enqueue reference", func() error {
		return in.publisher.Publish(in.ctx, in.updatesQueue, ref)
	})
}

// retry runs op with capped exponential backoff until it succeeds or the
// ingestor's context is canceled.
func (in *Ingestor) retry(what string, op func() error) error {
	delay := initialBackoff
	for {
		err := op()
		if err == nil {
			return nil
		}
		if in.ctx.Err() != nil {
			return in.ctx.Err()
		}

		in.logger.Warnf("%s failed, retrying in %s: %v", what, delay, err)
		select {
		case <-time.After(delay):
		case <-in.ctx.Done():
			return in.ctx.Err()
		}
		if delay *= 2; delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
