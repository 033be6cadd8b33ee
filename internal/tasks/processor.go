// Package tasks turns outbound mail stream entries into rendered emails.
package tasks

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"warden/internal/mail"
)

type Email struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// LogSender stands in for a real mail transport. The body carries a live
// token and is never logged.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) error {
	s.logger.Info().Str("to", email.To).Str("subject", email.Subject).Msg("email sent")
	return nil
}

type Processor struct {
	baseURL string
	sender  Sender
	logger  zerolog.Logger
}

func NewProcessor(baseURL string, sender Sender, logger zerolog.Logger) *Processor {
	return &Processor{
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		logger:  logger,
	}
}

// Handle renders and sends one message. Malformed entries are logged and
// acknowledged; retrying them cannot succeed.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	payload, err := mail.Decode(msg.Values)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("discarding malformed mail entry")
		return nil
	}

	email, err := p.Render(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("discarding unrenderable mail entry")
		return nil
	}

	if err := p.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("send %s mail: %w", payload.Kind, err)
	}
	return nil
}

func (p *Processor) Render(msg mail.Message) (Email, error) {
	switch msg.Kind {
	case mail.KindVerification:
		link := p.link("/verify-email", msg.Token)
		return Email{
			To:      msg.To,
			Subject: "Confirm your email address",
			Body:    "Confirm your email address by opening the link below.\n\n" + link + "\n",
		}, nil
	case mail.KindPasswordReset:
		link := p.link("/reset-password", msg.Token)
		body := "A password reset was requested for this address. " +
			"If it was not you, ignore this email.\n\n" + link + "\n"
		return Email{
			To:      msg.To,
			Subject: "Reset your password",
			Body:    body,
		}, nil
	default:
		return Email{}, fmt.Errorf("unknown mail kind %q", msg.Kind)
	}
}

func (p *Processor) link(path, token string) string {
	return p.baseURL + path + "?" + url.Values{"token": {token}}.Encode()
}
