package email

import (
	"context"
	"errors"
	"time"
)

// Sender define la interfaz para envio de correos transaccionales de cuenta.
type Sender interface {
	SendVerificationCode(ctx context.Context, toEmail string, code string, expiresAt time.Time) error
	SendWelcome(ctx context.Context, toEmail string, name string) error
	SendPasswordReset(ctx context.Context, toEmail string, resetURL string) error
	SendPasswordResetSuccess(ctx context.Context, toEmail string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) fail() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

func (s *disabledSender) SendVerificationCode(_ context.Context, _ string, _ string, _ time.Time) error {
	return s.fail()
}

func (s *disabledSender) SendWelcome(_ context.Context, _ string, _ string) error {
	return s.fail()
}

func (s *disabledSender) SendPasswordReset(_ context.Context, _ string, _ string) error {
	return s.fail()
}

func (s *disabledSender) SendPasswordResetSuccess(_ context.Context, _ string) error {
	return s.fail()
}
