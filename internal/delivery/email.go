package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

// implicitTLSPort is the submission port that speaks TLS from the first byte.
const implicitTLSPort = 465

var errBadRecipient = errors.New("invalid recipient address")

// SMTPMailer sends multipart/alternative mail through one SMTP relay. Every
// send opens its own connection, bounded by Timeout end to end.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	Logger   *zap.SugaredLogger
}

func (m *SMTPMailer) Send(ctx context.Context, to string, msg Message) bool {
	if err := m.send(ctx, to, msg); err != nil {
		m.Logger.Warnw("email send failed", "to", utilities.MaskEmail(to), "subject", msg.Subject, "err", err)
		return false
	}
	m.Logger.Debugw("email sent", "to", utilities.MaskEmail(to), "subject", msg.Subject)
	return true
}

func (m *SMTPMailer) send(ctx context.Context, to string, msg Message) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil || strings.ContainsAny(to, "\r\n") {
		return errBadRecipient
	}
	from, err := mail.ParseAddress(m.From)
	if err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	raw, err := buildMessage(from.String(), rcpt.String(), msg, time.Now())
	if err != nil {
		return err
	}

	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}
	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok && m.Port != implicitTLSPort {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if m.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(from.Address); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := c.Rcpt(rcpt.Address); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	if m.Port == implicitTLSPort {
		d := &tls.Dialer{Config: &tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// buildMessage renders headers and a multipart/alternative body, plaintext
// first so clients that prefer the last part show HTML.
func buildMessage(from, to string, msg Message, date time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	for _, part := range []struct{ ctype, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	} {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", part.ctype+"; charset=UTF-8")
		h.Set("Content-Transfer-Encoding", "quoted-printable")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
