package delivery

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"opportunist/internal/config"
	"opportunist/internal/logger"
)

const (
	sendEndpoint = "/v3/mail/send"
	plainText    = "Your opportunity digest is attached as HTML. Open this email in an HTML-capable client."
)

// SendGridDeliverer sends rendered digests through the SendGrid v3 API.
type SendGridDeliverer struct {
	client *sendgrid.Client
	from   *mail.Email
	log    logger.Logger
}

func NewSendGridDeliverer(cfg config.EmailConfig, log logger.Logger) *SendGridDeliverer {
	return newSendGridDeliverer(cfg, "", log)
}

// newSendGridDeliverer targets host instead of the public API when set.
func newSendGridDeliverer(cfg config.EmailConfig, host string, log logger.Logger) *SendGridDeliverer {
	if log == nil {
		log = logger.NewNop()
	}
	req := sendgrid.GetRequest(cfg.SendGridAPIKey, sendEndpoint, host)
	req.Method = "POST"
	return &SendGridDeliverer{
		client: &sendgrid.Client{Request: req},
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		log:    log.With(logger.String("component", "delivery")),
	}
}

// Deliver sends one HTML email. Any response outside 2xx is a failure.
func (s *SendGridDeliverer) Deliver(ctx context.Context, html, recipient, subject string) error {
	msg := mail.NewSingleEmail(s.from, subject, mail.NewEmail("", recipient), plainText, html)

	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", recipient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send email to %s: sendgrid returned status %d: %s", recipient, resp.StatusCode, resp.Body)
	}

	s.log.Info("Email sent", logger.String("recipient", recipient), logger.Int("status", resp.StatusCode))
	return nil
}
