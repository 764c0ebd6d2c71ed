package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gamestate/internal/db"
	"gamestate/internal/engine"
	"gamestate/internal/event"
)

type fakeSink struct {
	failures int
	inserted []db.EventRecord
	seen     map[string]bool
}

func newFakeSink(failures int) *fakeSink {
	return &fakeSink{failures: failures, seen: make(map[string]bool)}
}

func (f *fakeSink) Insert(_ context.Context, rec db.EventRecord) (bool, error) {
	if f.failures > 0 {
		f.failures--
		return false, errors.New("store unavailable")
	}
	f.inserted = append(f.inserted, rec)
	if f.seen[rec.ID.String()] {
		return false, nil
	}
	f.seen[rec.ID.String()] = true
	return true, nil
}

type fakePublisher struct {
	failures int
	queues   []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, queueName string, payload []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("queue unavailable")
	}
	f.queues = append(f.queues, queueName)
	f.payloads = append(f.payloads, payload)
	return nil
}

func validKill() []byte {
	return []byte(`{
		"matchID": "game_1",
		"type": "PLAYER_KILL",
		"timestamp": "2024-01-01T12:01:05Z",
		"payload": {"killerID": "AP1", "victimID": "EP1", "goldGranted": 300}
	}`)
}

func TestHandlePersistsAndEnqueues(t *testing.T) {
	sink := newFakeSink(0)
	pub := &fakePublisher{}
	in := New(context.Background(), sink, pub, "game_state_updates")

	raw := validKill()
	if err := in.Handle(raw); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(sink.inserted) != 1 {
		t.Fatalf("got %d inserts, want 1", len(sink.inserted))
	}
	rec := sink.inserted[0]
	if rec.ID != event.ID(raw) || rec.MatchID != "game_1" || rec.EventType != "PLAYER_KILL" {
		t.Fatalf("record = %+v", rec)
	}

	if len(pub.payloads) != 1 || pub.queues[0] != "game_state_updates" {
		t.Fatalf("got %d publishes to %v", len(pub.payloads), pub.queues)
	}
	var ref engine.Reference
	if err := json.Unmarshal(pub.payloads[0], &ref); err != nil {
		t.Fatalf("reference is not JSON: %v", err)
	}
	if ref.MatchID != "game_1" || ref.EventID != event.ID(raw).String() {
		t.Fatalf("reference = %+v", ref)
	}
}

func TestHandlePersistsInvalidEventWithoutEnqueue(t *testing.T) {
	sink := newFakeSink(0)
	pub := &fakePublisher{}
	in := New(context.Background(), sink, pub, "game_state_updates")

	// PLAYER_KILL with no victim: kept for audit, dropped from processing.
	raw := []byte(`{
		"matchID": "game_1",
		"type": "PLAYER_KILL",
		"timestamp": "2024-01-01T12:01:05Z",
		"payload": {"killerID": "AP1"}
	}`)
	if err := in.Handle(raw); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(sink.inserted) != 1 {
		t.Fatalf("got %d inserts, want 1", len(sink.inserted))
	}
	if sink.inserted[0].EventType != "PLAYER_KILL" || sink.inserted[0].MatchID != "game_1" {
		t.Fatalf("audit record = %+v", sink.inserted[0])
	}
	if len(pub.payloads) != 0 {
		t.Fatalf("invalid event was enqueued: %v", pub.payloads)
	}
}

func TestHandlePersistsGarbageBody(t *testing.T) {
	sink := newFakeSink(0)
	pub := &fakePublisher{}
	in := New(context.Background(), sink, pub, "game_state_updates")

	raw := []byte(`not even json`)
	if err := in.Handle(raw); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(sink.inserted) != 1 || sink.inserted[0].EventType != string(event.TypeUnknown) {
		t.Fatalf("inserts = %+v", sink.inserted)
	}
	if len(pub.payloads) != 0 {
		t.Fatal("garbage body was enqueued")
	}
}

func TestHandleRetriesStoreFailures(t *testing.T) {
	sink := newFakeSink(2)
	pub := &fakePublisher{}
	in := New(context.Background(), sink, pub, "game_state_updates")

	if err := in.Handle(validKill()); err != nil {
		t.Fatalf("Handle returned error after transient failures: %v", err)
	}
	if len(sink.inserted) != 1 || len(pub.payloads) != 1 {
		t.Fatalf("inserts=%d publishes=%d, want 1/1", len(sink.inserted), len(pub.payloads))
	}
}

func TestHandleRetriesEnqueueFailures(t *testing.T) {
	sink := newFakeSink(0)
	pub := &fakePublisher{failures: 1}
	in := New(context.Background(), sink, pub, "game_state_updates")

	if err := in.Handle(validKill()); err != nil {
		t.Fatalf("Handle returned error after transient failures: %v", err)
	}
	if len(pub.payloads) != 1 {
		t.Fatalf("publishes=%d, want 1", len(pub.payloads))
	}
}

func TestHandleRedeliveryStillEnqueues(t *testing.T) {
	sink := newFakeSink(0)
	pub := &fakePublisher{}
	in := New(context.Background(), sink, pub, "game_state_updates")

	raw := validKill()
	if err := in.Handle(raw); err != nil {
		t.Fatalf("first Handle: %v", err)
	}
	if err := in.Handle(raw); err != nil {
		t.Fatalf("second Handle: %v", err)
	}

	// The duplicate write is a no-op, but the reference is re-enqueued so a
	// crash between persist and enqueue can never strand an event; the
	// engine's processed set absorbs it.
	if len(pub.payloads) != 2 {
		t.Fatalf("publishes=%d, want 2", len(pub.payloads))
	}
}

func TestHandleStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newFakeSink(1000)
	in := New(ctx, sink, &fakePublisher{}, "game_state_updates")

	if err := in.Handle(validKill()); err == nil {
		t.Fatal("expected context error, got nil")
	}
}
