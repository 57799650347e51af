package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/pkg/mail"
)

// EmailSender delivers notifications over SMTP via the shared mailer.
type EmailSender struct {
	mailer mail.Mailer
}

// NewEmailSender wraps a mailer as a channel sender.
func NewEmailSender(mailer mail.Mailer) (*EmailSender, error) {
	if mailer == nil {
		return nil, errors.New("email sender: mailer is required")
	}
	return &EmailSender{mailer: mailer}, nil
}

// Send delivers the payload to the user's email address.
func (s *EmailSender) Send(ctx context.Context, user models.User, payload Payload) error {
	to := strings.TrimSpace(user.Email)
	if to == "" {
		return errors.New("email sender: user has no email address")
	}

	err := s.mailer.Send(ctx, mail.Message{
		To:      []string{to},
		Subject: payload.Title,
		Body:    payload.Message,
	})
	if err != nil {
		return fmt.Errorf("email sender: %w", err)
	}
	return nil
}
