package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"incident-service/metrics"
	"incident-service/models"

	"github.com/apex/log"
)

// ErrSendTimeout is recorded for a send that did not finish within the
// dispatcher's send timeout.
var ErrSendTimeout = errors.New("timeout")

// SendFunc delivers a notification to one recipient
type SendFunc func(ctx context.Context, recipient string) error

// Dispatcher fans a saved report out to every recipient of every enabled
// channel.
type Dispatcher struct {
	channels    []Channel
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher over a fixed list of enabled channels.
func NewDispatcher(channels []Channel, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		channels:    append([]Channel(nil), channels...),
		sendTimeout: sendTimeout,
	}
}

// Channels returns the kinds of the enabled channels.
func (d *Dispatcher) Channels() []string {
	kinds := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		kinds = append(kinds, ch.Kind())
	}
	return kinds
}

// Dispatch sends report to all recipients and returns the aggregate result.
// It never fails: per-recipient errors end up in the summary. Channels run
// concurrently, recipients of one channel run sequentially in configured
// order. Failures are ordered by channel, then recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, report *models.Report) models.DispatchSummary {
	results := make([][]models.NotificationAttempt, len(d.channels))

	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			send := func(ctx context.Context, recipient string) error {
				return ch.Send(ctx, report, recipient)
			}
			results[i] = FanOut(ctx, ch.Kind(), ch.Recipients(), d.withTimeout(send))
		}(i, ch)
	}
	wg.Wait()

	var attempts []models.NotificationAttempt
	for _, r := range results {
		attempts = append(attempts, r...)
	}
	summary := models.Summarize(attempts)

	log.WithFields(log.Fields{
		"report":    report.ID,
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"failed":    len(summary.Failures),
	}).Info("Report notifications dispatched")
	return summary
}

// FanOut calls send once for every recipient, in order, and returns one
// attempt per recipient. A failed recipient never stops the ones after it.
func FanOut(ctx context.Context, kind string, recipients []string, send SendFunc) []models.NotificationAttempt {
	attempts := make([]models.NotificationAttempt, 0, len(recipients))
	for _, recipient := range recipients {
		start := time.Now()
		err := safeSend(ctx, send, recipient)
		metrics.NotificationDurationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		metrics.NotificationsTotal.WithLabelValues(kind, metrics.Result(err)).Inc()

		attempt := models.NotificationAttempt{
			Channel:   kind,
			Recipient: recipient,
			Success:   err == nil,
		}
		entry := log.WithFields(log.Fields{"channel": kind, "recipient": recipient})
		if err != nil {
			attempt.Error = err.Error()
			entry.WithError(err).Warn("Notification failed")
		} else {
			entry.Info("Notification sent")
		}
		attempts = append(attempts, attempt)
	}
	return attempts
}

// safeSend turns a panicking channel into a failed attempt.
func safeSend(ctx context.Context, send SendFunc, recipient string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panicked: %v", r)
		}
	}()
	return send(ctx, recipient)
}

// withTimeout bounds send by the dispatcher's send timeout. A send that
// ignores its context is abandoned once the timeout fires.
func (d *Dispatcher) withTimeout(send SendFunc) SendFunc {
	if d.sendTimeout <= 0 {
		return send
	}
	return func(ctx context.Context, recipient string) error {
		ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- safeSend(ctx, send, recipient)
		}()

		select {
		case err := <-done:
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrSendTimeout
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrSendTimeout
			}
			return ctx.Err()
		}
	}
}
