package mailer

import (
	"context"

	"github.com/pkg/errors"
	gomail "gopkg.in/gomail.v2"

	"github.com/tidyzon/enroute/internal/models"
)

// Sender delivers one email. Used for the admin leg of emergency
// fan-out; failures are logged per recipient, never propagated.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTP(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	// gomail не принимает контекст, поэтому отменяем на своей стороне.
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(models.ErrUpstreamUnavailable, err.Error())
		}
		return nil
	case <-ctx.Done():
		return errors.Wrap(models.ErrUpstreamUnavailable, ctx.Err().Error())
	}
}
