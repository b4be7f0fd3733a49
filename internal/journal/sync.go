package journal

import (
	"context"

	"termlink/internal/bus"
	"termlink/internal/events"
)

// StartSync records every settled payment outcome published on the bus.
func StartSync(ctx context.Context, b bus.MessageBus, writer *WriterQueue, repo *AttemptRepo) {
	sub := b.Subscribe(events.TopicPaymentResult)

	go func() {
		defer b.Unsubscribe(sub, events.TopicPaymentResult)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				outcome, ok := raw.(events.PaymentOutcome)
				if !ok {
					continue
				}
				writer.Enqueue("record attempt", func(ctx context.Context) error {
					return repo.Record(ctx, outcome)
				})
			}
		}
	}()
}
