package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"incident-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	kind       string
	recipients []string
	fail       map[string]error
	hang       map[string]bool
	panics     map[string]bool

	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) Kind() string         { return f.kind }
func (f *fakeChannel) Recipients() []string { return f.recipients }

func (f *fakeChannel) Send(ctx context.Context, report *models.Report, recipient string) error {
	f.mu.Lock()
	f.sent = append(f.sent, recipient)
	f.mu.Unlock()

	if f.panics[recipient] {
		panic("transport exploded")
	}
	if f.hang[recipient] {
		// Ignores ctx on purpose, like a transport without deadline support.
		time.Sleep(time.Second)
		return nil
	}
	return f.fail[recipient]
}

func (f *fakeChannel) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testReport() *models.Report {
	return &models.Report{
		ID:               "report-1",
		CollegeCode:      "C1",
		IncidentCategory: "safety",
		IncidentType:     "fire",
		Description:      "smoke in lab",
		OccurredAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CreatedAt:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_EmailOkFirstSMSTimesOut(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail, recipients: []string{"dean@example.com"}}
	sms := &fakeChannel{
		kind:       models.ChannelSMS,
		recipients: []string{"+15550001", "+15550002"},
		hang:       map[string]bool{"+15550001": true},
	}
	d := NewDispatcher([]Channel{email, sms}, 20*time.Millisecond)

	start := time.Now()
	summary := d.Dispatch(context.Background(), testReport())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, models.DispatchSummary{
		Attempted: 3,
		Succeeded: 2,
		Failures: []models.NotificationAttempt{
			{Channel: models.ChannelSMS, Recipient: "+15550001", Error: "timeout"},
		},
	}, summary)
	assert.Equal(t, []string{"+15550001", "+15550002"}, sms.sentTo())
}

func TestDispatch_OneFailingRecipientDoesNotBlockOthers(t *testing.T) {
	for n := 1; n <= 5; n++ {
		for j := 0; j < n; j++ {
			t.Run(fmt.Sprintf("n=%d,j=%d", n, j), func(t *testing.T) {
				recipients := make([]string, n)
				for i := range recipients {
					recipients[i] = fmt.Sprintf("+1555000%d", i)
				}
				sms := &fakeChannel{
					kind:       models.ChannelSMS,
					recipients: recipients,
					fail:       map[string]error{recipients[j]: errors.New("invalid number")},
				}
				d := NewDispatcher([]Channel{sms}, time.Second)

				summary := d.Dispatch(context.Background(), testReport())

				assert.Equal(t, n, summary.Attempted)
				assert.Equal(t, n-1, summary.Succeeded)
				require.Len(t, summary.Failures, 1)
				assert.Equal(t, recipients[j], summary.Failures[0].Recipient)
				assert.Equal(t, "invalid number", summary.Failures[0].Error)
				assert.Equal(t, recipients, sms.sentTo())
			})
		}
	}
}

func TestDispatch_ZeroRecipients(t *testing.T) {
	email := &fakeChannel{kind: models.ChannelEmail}
	sms := &fakeChannel{kind: models.ChannelSMS, recipients: []string{"+15550001"}}
	d := NewDispatcher([]Channel{email, sms}, time.Second)

	summary := d.Dispatch(context.Background(), testReport())

	assert.Empty(t, email.sentTo())
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.Failures)
}

func TestDispatch_NoChannels(t *testing.T) {
	d := NewDispatcher(nil, time.Second)

	summary := d.Dispatch(context.Background(), testReport())

	assert.Equal(t, 0, summary.Attempted)
	assert.NotNil(t, summary.Failures)
	assert.Empty(t, d.Channels())
}

func TestDispatch_FailuresOrderedByChannel(t *testing.T) {
	email := &fakeChannel{
		kind:       models.ChannelEmail,
		recipients: []string{"a@example.com", "b@example.com"},
		fail: map[string]error{
			"a@example.com": errors.New("bounced"),
			"b@example.com": errors.New("bounced"),
		},
	}
	sms := &fakeChannel{
		kind:       models.ChannelSMS,
		recipients: []string{"+15550001"},
		fail:       map[string]error{"+15550001": errors.New("unreachable")},
	}
	d := NewDispatcher([]Channel{email, sms}, time.Second)

	summary := d.Dispatch(context.Background(), testReport())

	require.Len(t, summary.Failures, 3)
	assert.Equal(t, "a@example.com", summary.Failures[0].Recipient)
	assert.Equal(t, "b@example.com", summary.Failures[1].Recipient)
	assert.Equal(t, "+15550001", summary.Failures[2].Recipient)
	assert.Equal(t, []string{models.ChannelEmail, models.ChannelSMS}, d.Channels())
}

func TestDispatch_PanickingChannelIsIsolated(t *testing.T) {
	sms := &fakeChannel{
		kind:       models.ChannelSMS,
		recipients: []string{"+15550001", "+15550002"},
		panics:     map[string]bool{"+15550001": true},
	}
	d := NewDispatcher([]Channel{sms}, time.Second)

	summary := d.Dispatch(context.Background(), testReport())

	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Contains(t, summary.Failures[0].Error, "panicked")
}

func TestFanOut_IsAFoldOverRecipients(t *testing.T) {
	outcomes := map[string]error{
		"r1": nil,
		"r2": errors.New("rejected"),
		"r3": nil,
	}
	send := func(_ context.Context, recipient string) error {
		return outcomes[recipient]
	}

	attempts := FanOut(context.Background(), "test", []string{"r1", "r2", "r3"}, send)

	assert.Equal(t, []models.NotificationAttempt{
		{Channel: "test", Recipient: "r1", Success: true},
		{Channel: "test", Recipient: "r2", Error: "rejected"},
		{Channel: "test", Recipient: "r3", Success: true},
	}, attempts)
}

func TestWithTimeout_MapsDeadlineToTimeout(t *testing.T) {
	d := NewDispatcher(nil, 10*time.Millisecond)
	send := d.withTimeout(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := send(context.Background(), "r1")

	assert.ErrorIs(t, err, ErrSendTimeout)
}
