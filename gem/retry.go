package gem

import (
	"errors"
	"time"

	"github.com/semiconlab/gemequip/common"
)

// ErrTransportUnusable is reported when the link is down and stays down for
// every delivery attempt.
var ErrTransportUnusable = errors.New("gem: transport not usable")

// DeliveryPolicy bounds the retry behavior of outbound report/alarm
// delivery: a fixed number of attempts separated by a fixed backoff.
type DeliveryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// QueueSize bounds the alarm delivery queue.
	QueueSize int
}

func (p *DeliveryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = 2 * time.Second
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 128
	}
}

// sendWithRetry delivers a primary message, retrying transport failures with
// fixed backoff until the policy's attempt budget is exhausted. It never
// blocks indefinitely.
func sendWithRetry(t Transport, msg *Message, policy DeliveryPolicy, logger common.Logger) (*Message, error) {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(policy.Backoff)
		}

		if !t.Usable() {
			lastErr = ErrTransportUnusable
			continue
		}

		reply, err := t.SendAndWait(msg)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		logger.Warn("delivery attempt failed", "message", msg.SF(), "attempt", attempt, "error", err)
	}

	return nil, lastErr
}
