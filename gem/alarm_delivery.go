package gem

import (
	"context"
	"time"
)

// enqueue places one notification on the delivery queue without blocking
// the reporting caller. When the queue is saturated the item is dropped and
// logged; occurrence ordering per alarm id is preserved because a drop
// never reorders the remaining queue.
func (e *AlarmEngine) enqueue(item pendingAlarm) {
	select {
	case e.queue <- item:
	default:
		e.logger.Error("alarm delivery queue full, dropping notification",
			"alid", item.id, "set", item.set, "capacity", cap(e.queue))
	}
}

// DeliveryLoop is the single consumer of the alarm queue. Draining through
// one goroutine keeps notifications for the same alarm id in FIFO order.
// It runs until ctx is cancelled.
func (e *AlarmEngine) DeliveryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-e.queue:
			e.deliver(ctx, item)
		}
	}
}

// deliver attempts one notification with bounded retries. The item is
// dropped after the retry budget is spent so one unreachable host cannot
// wedge the queue behind it.
func (e *AlarmEngine) deliver(ctx context.Context, item pendingAlarm) {
	msg := buildAlarmReport(item)

	for attempt := 1; attempt <= e.delivery.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return
		}

		if e.transport != nil && e.transport.Usable() {
			reply, err := e.transport.SendAndWait(msg)
			if err == nil {
				if reply != nil {
					if ack, ackErr := itemToByte(reply.Item()); ackErr == nil && ack != ackc5Accepted {
						e.logger.Warn("host rejected alarm report", "alid", item.id, "ackc5", ack)
					}
				}
				return
			}
			e.logger.Warn("alarm report delivery failed",
				"alid", item.id, "attempt", attempt, "error", err)
		} else {
			e.logger.Debug("transport not usable, delaying alarm report",
				"alid", item.id, "attempt", attempt)
		}

		if attempt < e.delivery.MaxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.delivery.Backoff):
			}
		}
	}

	e.logger.Error("dropping alarm report after exhausting retries",
		"alid", item.id, "set", item.set, "attempts", e.delivery.MaxAttempts)
}
