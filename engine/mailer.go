package engine

import (
	"context"
	"errors"

	"vitalpath/models"
)

// OutboundEmail is the rendered tuple handed to the outbound channel.
type OutboundEmail struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Mailer is the outbound channel collaborator. Send returns the provider
// message id on success. Implementations must honor ctx cancellation; a timeout
// is reported as a retryable SendError.
type Mailer interface {
	Send(ctx context.Context, sender *models.Sender, email OutboundEmail) (string, error)
}

// SendError classifies a transport failure as permanent (bad address, rejected
// content) or retryable (connection trouble, timeout).
type SendError struct {
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	return e.Err.Error()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsPermanentSendError reports whether err is a SendError the retry policy
// should not retry.
func IsPermanentSendError(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Permanent
}
