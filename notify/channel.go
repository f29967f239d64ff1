package notify

import (
	"context"
	"fmt"
	"strings"

	"incident-service/config"
	"incident-service/models"

	"github.com/apex/log"
)

// Channel sends one rendered report to one recipient. Each implementation
// owns its transport and credentials.
type Channel interface {
	// Kind returns the channel identifier, e.g. "email" or "sms".
	Kind() string

	// Recipients returns the configured recipients in order.
	Recipients() []string

	// Send delivers report to a single recipient.
	Send(ctx context.Context, report *models.Report, recipient string) error
}

// BuildChannels returns the enabled channels for cfg. A channel whose
// credentials are missing or invalid is left out entirely.
func BuildChannels(cfg *config.Config) []Channel {
	var channels []Channel

	if email, err := NewEmailChannel(cfg); err != nil {
		log.WithError(err).Warn("Email notifications disabled")
	} else {
		channels = append(channels, email)
	}

	if sms, err := NewSMSChannel(cfg); err != nil {
		log.WithError(err).Warn("SMS notifications disabled")
	} else {
		channels = append(channels, sms)
	}

	return channels
}

// reportLines renders the report fields shared by every template.
func reportLines(report *models.Report) []string {
	return []string{
		fmt.Sprintf("College Code: %s", report.CollegeCode),
		fmt.Sprintf("Category: %s", report.IncidentCategory),
		fmt.Sprintf("Type: %s", report.IncidentType),
		fmt.Sprintf("Description: %s", report.Description),
		fmt.Sprintf("Time: %s", report.OccurredAt.UTC().Format("2006-01-02 15:04 MST")),
		fmt.Sprintf("Report ID: %s", report.ID),
	}
}

// imageURL resolves a relative image path against baseURL.
func imageURL(baseURL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}
