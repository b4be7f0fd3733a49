package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"termlink/internal/bus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nextEvent(t *testing.T, evs <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-evs:
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func TestStreamMapsSignalsInOrder(t *testing.T) {
	b := bus.New(discardLogger())
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stream := NewStream(discardLogger(), b)
	stream.Start(ctx)

	now := time.Now()
	b.Publish(TopicConnStatus, ConnStatus{State: ConnectionStateConnecting, Target: "t:1", Timestamp: now})
	b.Publish(TopicConnStatus, ConnStatus{State: ConnectionStateConnected, Target: "t:1", Timestamp: now})
	b.Publish(TopicPaymentStatus, StatusText{Text: "PROCESSING"})
	b.Publish(TopicReceiptLine, ReceiptLine{Text: "LINE 1"})
	b.Publish(TopicPaymentResult, PaymentOutcome{
		AttemptID: "a-1",
		Success:   true,
		Message:   "RRN=123 AUTH=456 APPROVED",
		RRN:       "123",
		AuthCode:  "456",
		SettledAt: now,
	})
	b.Publish(TopicConnStatus, ConnStatus{State: ConnectionStateClosed, Target: "t:1", Err: "read: broken pipe", Timestamp: now})

	wantKinds := []Kind{KindConnected, KindStatus, KindReceiptLine, KindApproved, KindError, KindDisconnected}
	var got []Event
	for range wantKinds {
		got = append(got, nextEvent(t, stream.Events()))
	}

	for i, want := range wantKinds {
		if got[i].Kind != want {
			t.Fatalf("event %d: kind %s, want %s (all: %+v)", i, got[i].Kind, want, got)
		}
	}

	approved := got[3]
	if approved.RRN != "123" || approved.AuthCode != "456" || approved.AttemptID != "a-1" {
		t.Fatalf("approved event lost fields: %+v", approved)
	}
	if got[4].Err == "" {
		t.Fatalf("error event lost cause: %+v", got[4])
	}
}

func TestStreamMapsDecline(t *testing.T) {
	b := bus.New(discardLogger())
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	stream := NewStream(discardLogger(), b)
	stream.Start(ctx)

	b.Publish(TopicPaymentResult, PaymentOutcome{Success: false, Message: "DECLINED"})

	ev := nextEvent(t, stream.Events())
	if ev.Kind != KindDeclined {
		t.Fatalf("expected declined, got %s", ev.Kind)
	}
	if ev.Message != "DECLINED" {
		t.Fatalf("unexpected message: %q", ev.Message)
	}
	if ev.RRN != "" || ev.AuthCode != "" {
		t.Fatalf("declined event should not carry approval fields: %+v", ev)
	}
}

func TestStreamClosesOnCancel(t *testing.T) {
	b := bus.New(discardLogger())
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	stream := NewStream(discardLogger(), b)
	stream.Start(ctx)

	cancel()

	select {
	case _, ok := <-stream.Events():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close after cancel")
	}
}
