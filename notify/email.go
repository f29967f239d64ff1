package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"incident-service/config"
	"incident-service/models"

	"github.com/apex/log"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const emailSubject = "New Incident Report Submitted"

// mailClient is the subset of the SendGrid client used by EmailChannel
type mailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailChannel sends reports through SendGrid
type EmailChannel struct {
	client     mailClient
	fromName   string
	fromEmail  string
	baseURL    string
	recipients []string
}

// NewEmailChannel creates the email channel, or an error when the SendGrid
// credentials are not configured.
func NewEmailChannel(cfg *config.Config) (*EmailChannel, error) {
	if cfg.SendGridAPIKey == "" {
		return nil, errors.New("SENDGRID_API_KEY is not set")
	}
	if !strings.Contains(cfg.SendGridFromEmail, "@") {
		return nil, fmt.Errorf("invalid sender address %q", cfg.SendGridFromEmail)
	}
	return newEmailChannel(sendgrid.NewSendClient(cfg.SendGridAPIKey), cfg), nil
}

func newEmailChannel(client mailClient, cfg *config.Config) *EmailChannel {
	return &EmailChannel{
		client:     client,
		fromName:   cfg.SendGridFromName,
		fromEmail:  cfg.SendGridFromEmail,
		baseURL:    cfg.PublicBaseURL,
		recipients: cfg.Recipients.Emails(),
	}
}

func (e *EmailChannel) Kind() string {
	return models.ChannelEmail
}

func (e *EmailChannel) Recipients() []string {
	return append([]string(nil), e.recipients...)
}

// Send sends the report email to a single address
func (e *EmailChannel) Send(ctx context.Context, report *models.Report, recipient string) error {
	from := mail.NewEmail(e.fromName, e.fromEmail)
	to := mail.NewEmail(recipient, recipient)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = emailSubject

	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", e.renderText(report)))
	message.AddContent(mail.NewContent("text/html", e.renderHTML(report)))

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", response.StatusCode, response.Body)
	}

	log.Debugf("Email sent to %s, status: %d", recipient, response.StatusCode)
	return nil
}

// renderText returns the plain text content for report emails
func (e *EmailChannel) renderText(report *models.Report) string {
	var b strings.Builder
	b.WriteString("New incident report submitted:\n\n")
	for _, line := range reportLines(report) {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if report.ImageRef != "" {
		fmt.Fprintf(&b, "Image: %s\n", imageURL(e.baseURL, report.ImageRef))
	}
	return b.String()
}

// renderHTML returns the HTML content for report emails. Every report field
// is escaped.
func (e *EmailChannel) renderHTML(report *models.Report) string {
	body := fmt.Sprintf(`<p>New incident report submitted:</p>
<ul>
    <li><strong>College Code:</strong> %s</li>
    <li><strong>Category:</strong> %s</li>
    <li><strong>Type:</strong> %s</li>
    <li><strong>Description:</strong> %s</li>
    <li><strong>Time:</strong> %s</li>
    <li><strong>Report ID:</strong> %s</li>
</ul>`,
		html.EscapeString(report.CollegeCode),
		html.EscapeString(report.IncidentCategory),
		html.EscapeString(report.IncidentType),
		html.EscapeString(report.Description),
		html.EscapeString(report.OccurredAt.UTC().Format("2006-01-02 15:04 MST")),
		html.EscapeString(report.ID))

	if report.ImageRef != "" {
		u := html.EscapeString(imageURL(e.baseURL, report.ImageRef))
		body += fmt.Sprintf(`
<p><strong>Image:</strong> <a href="%s">%s</a></p>`, u, u)
	}
	return body
}
