package history

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (c *captureSink) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *captureSink) Close() error {
	c.closed = true
	return nil
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	bad := &captureSink{err: errors.New("boom")}
	good := &captureSink{}
	f := NewFanout(log, bad, good)

	f.Emit(context.Background(), Event{Type: EventStart, Record: Record{RunID: "r1", Title: "T"}})

	if len(bad.events) != 1 || len(good.events) != 1 {
		t.Fatalf("expected one event per sink, got bad=%d good=%d", len(bad.events), len(good.events))
	}
	if good.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be filled")
	}
	if !bytes.Contains(buf.Bytes(), []byte("history sink send failed")) {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestFanoutKeepsExplicitTimestamp(t *testing.T) {
	s := &captureSink{}
	f := NewFanout(nil, s)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	f.Emit(context.Background(), Event{Type: EventStop, OccurredAt: at})
	if !s.events[0].OccurredAt.Equal(at) {
		t.Fatalf("timestamp overwritten: %v", s.events[0].OccurredAt)
	}
}

func TestFanoutNilAndClose(t *testing.T) {
	var nilF *Fanout
	nilF.Emit(context.Background(), Event{Type: EventStart})
	if nilF.Len() != 0 {
		t.Fatalf("nil fanout should have no sinks")
	}

	s := &captureSink{}
	f := NewFanout(nil, s)
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !s.closed {
		t.Fatalf("expected sink to be closed")
	}
	if f.Len() != 0 {
		t.Fatalf("expected sinks cleared after close")
	}
}

func TestFanoutSetSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	f := NewFanout(nil, a)
	if err := f.SetSinks(b); err != nil {
		t.Fatalf("set sinks: %v", err)
	}
	if !a.closed {
		t.Fatalf("replaced sink was not closed")
	}
	f.Emit(context.Background(), Event{Type: EventUpdate})
	if len(a.events) != 0 || len(b.events) != 1 {
		t.Fatalf("SetSinks did not replace list: a=%d b=%d", len(a.events), len(b.events))
	}
}
