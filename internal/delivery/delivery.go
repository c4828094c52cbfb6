// Package delivery sends one-time codes and notifications out of band.
//
// Senders report success as a bool. A false result is a transient delivery
// failure: callers log and count it but never fail the request, because the
// code row is already committed and the user can ask for a resend.
package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// SMSSender delivers a text body to an E.164 phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, body string) bool
}

// EmailSender delivers a message to one mailbox.
type EmailSender interface {
	Send(ctx context.Context, to string, msg Message) bool
}

// Message is a rendered email with an HTML and a plaintext part.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// LogSMS is the development SMS sink. It records that a send happened and
// drops the body, which carries the code.
type LogSMS struct {
	Logger *zap.SugaredLogger
}

func (s LogSMS) Send(_ context.Context, phone, _ string) bool {
	s.Logger.Infow("sms delivery skipped (log sink)", "phone", utilities.MaskPhone(phone))
	return true
}

// LogEmail is the development email sink. Only the subject is logged.
type LogEmail struct {
	Logger *zap.SugaredLogger
}

func (s LogEmail) Send(_ context.Context, to string, msg Message) bool {
	s.Logger.Infow("email delivery skipped (log sink)", "to", utilities.MaskEmail(to), "subject", msg.Subject)
	return true
}
