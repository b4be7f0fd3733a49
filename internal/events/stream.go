package events

import (
	"context"
	"log/slog"
	"time"

	"termlink/internal/bus"
)

// Stream maps internal bus signals to the closed external event vocabulary.
// It holds no state of its own: events come out in the order the underlying
// signals were published, and every event is traced to the debug log sink
// before delivery.
type Stream struct {
	logger *slog.Logger
	bus    bus.MessageBus
	out    chan Event
}

func NewStream(logger *slog.Logger, b bus.MessageBus) *Stream {
	return &Stream{
		logger: logger,
		bus:    b,
		out:    make(chan Event, 64),
	}
}

// Events returns the external event stream. The channel is closed when the
// Stream's context is cancelled.
func (s *Stream) Events() <-chan Event {
	return s.out
}

func (s *Stream) Start(ctx context.Context) {
	sub := s.bus.Subscribe(TopicConnStatus, TopicPaymentStatus, TopicReceiptLine, TopicPaymentResult)

	go func() {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				s.bus.Unsubscribe(sub)
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				for _, ev := range s.mapSignal(raw) {
					s.deliver(ctx, ev)
				}
			}
		}
	}()
}

func (s *Stream) mapSignal(raw any) []Event {
	switch msg := raw.(type) {
	case ConnStatus:
		return s.mapConnStatus(msg)
	case StatusText:
		return []Event{{Kind: KindStatus, Message: msg.Text, Timestamp: time.Now()}}
	case ReceiptLine:
		return []Event{{Kind: KindReceiptLine, Message: msg.Text, Timestamp: time.Now()}}
	case PaymentOutcome:
		return []Event{mapOutcome(msg)}
	default:
		s.logger.Debug("unmapped bus signal", "payload", raw)
		return nil
	}
}

func (s *Stream) mapConnStatus(status ConnStatus) []Event {
	switch status.State {
	case ConnectionStateConnected:
		return []Event{{Kind: KindConnected, Message: status.Target, Timestamp: status.Timestamp}}
	case ConnectionStateClosed, ConnectionStateIdle:
		ev := Event{Kind: KindDisconnected, Message: status.Target, Timestamp: status.Timestamp}
		if status.Err != "" {
			return []Event{
				{Kind: KindError, Err: status.Err, Message: status.Target, Timestamp: status.Timestamp},
				ev,
			}
		}
		return []Event{ev}
	default:
		// Connecting and closing are internal transitions with no external
		// vocabulary entry.
		return nil
	}
}

func mapOutcome(outcome PaymentOutcome) Event {
	ev := Event{
		Kind:      KindApproved,
		Message:   outcome.Message,
		RRN:       outcome.RRN,
		AuthCode:  outcome.AuthCode,
		AttemptID: outcome.AttemptID,
		Timestamp: outcome.SettledAt,
	}
	if !outcome.Success {
		ev.Kind = KindDeclined
		ev.RRN = ""
		ev.AuthCode = ""
	}
	return ev
}

func (s *Stream) deliver(ctx context.Context, ev Event) {
	s.logger.Debug("emit event",
		"kind", ev.Kind,
		"message", ev.Message,
		"rrn", ev.RRN,
		"auth_code", ev.AuthCode,
		"error", ev.Err,
	)
	select {
	case <-ctx.Done():
	case s.out <- ev:
	}
}
