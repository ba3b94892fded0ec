package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"vitalpath/engine"
	"vitalpath/models"

	"gopkg.in/gomail.v2"
)

// GomailMailer delivers rendered emails over the sender's own SMTP account.
// It implements engine.Mailer.
type GomailMailer struct{}

func NewGomailMailer() *GomailMailer {
	return &GomailMailer{}
}

// Send dials the sender's SMTP host and delivers the message with both
// encodings (text body plus HTML alternative). The context bounds the whole
// dial-and-send; hitting the deadline is reported as a retryable failure.
func (gm *GomailMailer) Send(ctx context.Context, sender *models.Sender, email engine.OutboundEmail) (string, error) {
	password, err := DecryptCredential(sender.SMTPPassword)
	if err != nil {
		return "", &engine.SendError{Permanent: true, Err: fmt.Errorf("decrypt SMTP password: %w", err)}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", sender.FromName, sender.FromEmail))
	m.SetHeader("To", email.To)
	if sender.ReplyTo != "" {
		m.SetHeader("Reply-To", sender.ReplyTo)
	}
	m.SetHeader("Subject", email.Subject)
	m.SetBody("text/plain", email.Text)
	m.AddAlternative("text/html", email.HTML)

	d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
	switch strings.ToUpper(sender.Encryption) {
	case "SSL", "TLS":
		d.SSL = true
	}
	d.TLSConfig = &tls.Config{ServerName: sender.SMTPHost}

	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return "", &engine.SendError{Err: fmt.Errorf("send to %s: %w", email.To, ctx.Err())}
	case err := <-done:
		if err != nil {
			return "", classifySendError(email.To, err)
		}
	}
	return "", nil
}

// classifySendError maps SMTP failures onto the retryable/permanent taxonomy.
// 5xx replies are permanent; everything else (connect errors, 4xx, timeouts)
// is worth retrying.
func classifySendError(to string, err error) error {
	msg := err.Error()
	permanent := strings.Contains(msg, "550") ||
		strings.Contains(msg, "551") ||
		strings.Contains(msg, "553") ||
		strings.Contains(msg, "554")
	return &engine.SendError{
		Permanent: permanent,
		Err:       fmt.Errorf("send to %s: %w", to, err),
	}
}
