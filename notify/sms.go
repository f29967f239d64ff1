package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"incident-service/config"
	"incident-service/models"

	"github.com/apex/log"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// maxSMSLength is the Twilio body limit in characters
const maxSMSLength = 1600

// messageClient is the subset of the Twilio API used by SMSChannel
type messageClient interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSChannel sends reports as text messages through Twilio
type SMSChannel struct {
	client     messageClient
	from       string
	recipients []string
}

// NewSMSChannel creates the SMS channel, or an error when the Twilio
// credentials are missing or malformed.
func NewSMSChannel(cfg *config.Config) (*SMSChannel, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		return nil, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER must be set")
	}
	if !strings.HasPrefix(cfg.TwilioAccountSID, "AC") {
		return nil, fmt.Errorf("invalid Twilio account SID %q", cfg.TwilioAccountSID)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return newSMSChannel(client.Api, cfg), nil
}

func newSMSChannel(client messageClient, cfg *config.Config) *SMSChannel {
	return &SMSChannel{
		client:     client,
		from:       cfg.TwilioFromNumber,
		recipients: cfg.Recipients.Phones(),
	}
}

func (s *SMSChannel) Kind() string {
	return models.ChannelSMS
}

func (s *SMSChannel) Recipients() []string {
	return append([]string(nil), s.recipients...)
}

// Send texts the report to a single phone number. The Twilio client has no
// context support, so cancellation is only checked before the call.
func (s *SMSChannel) Send(ctx context.Context, report *models.Report, recipient string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(s.from)
	params.SetBody(renderSMS(report))

	resp, err := s.client.CreateMessage(params)
	if err != nil {
		return err
	}
	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("twilio rejected message: %s", *resp.ErrorMessage)
	}

	if resp.Sid != nil {
		log.Debugf("SMS sent to %s, sid: %s", recipient, *resp.Sid)
	}
	return nil
}

// renderSMS renders the plain text message, truncated to maxSMSLength.
func renderSMS(report *models.Report) string {
	body := "New incident report\n" + strings.Join(reportLines(report), "\n")
	return truncate(body, maxSMSLength)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
