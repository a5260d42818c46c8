package natsjs

import (
	"context"
	"log"
	"time"

	"github.com/inboxpilot-dev/mail-sync-infra/internal/store"
)

const (
	dispatchBatchSize = 100
	dispatchIdleSleep = 500 * time.Millisecond
	retryBackoff      = 10 * time.Second
)

// Dispatcher drains the transactional outbox into JetStream. Events are
// written to the outbox in the same transaction as the state they
// describe, so a crash between write and publish loses nothing.
type Dispatcher struct {
	store *store.Store
	pub   *Publisher
}

func NewDispatcher(st *store.Store, pub *Publisher) *Dispatcher {
	return &Dispatcher{store: st, pub: pub}
}

// Run dispatches until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := d.store.DequeueOutbox(ctx, dispatchBatchSize)
		if err != nil {
			log.Printf("outbox: dequeue failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if len(messages) == 0 {
			time.Sleep(dispatchIdleSleep)
			continue
		}

		for _, msg := range messages {
			if err := d.pub.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				log.Printf("outbox: publish %d failed: %v", msg.ID, err)
				_ = d.store.MarkOutboxRetry(ctx, msg.ID, retryBackoff)
				continue
			}
			if err := d.store.MarkPublished(ctx, msg.ID); err != nil {
				log.Printf("outbox: mark published %d failed: %v", msg.ID, err)
			}
		}
	}
}
