package models

// Channel kinds
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// NotificationAttempt is the outcome of sending one report to one recipient
// over one channel.
type NotificationAttempt struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// DispatchSummary aggregates the attempts of one dispatch call
type DispatchSummary struct {
	Attempted int                   `json:"attempted"`
	Succeeded int                   `json:"succeeded"`
	Failures  []NotificationAttempt `json:"failures"`
}

// Summarize folds attempts into a DispatchSummary, keeping failure order.
func Summarize(attempts []NotificationAttempt) DispatchSummary {
	summary := DispatchSummary{Failures: []NotificationAttempt{}}
	for _, a := range attempts {
		summary.Attempted++
		if a.Success {
			summary.Succeeded++
			continue
		}
		summary.Failures = append(summary.Failures, a)
	}
	return summary
}
