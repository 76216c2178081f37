// Package smtp delivers templated document mail over SMTP.
package smtp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/infrastructure/resilience"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

// sendFunc matches smtp.SendMail so tests can capture the wire message.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Sender struct {
	cfg       Config
	templates map[domain.MailTemplate]mailTemplate
	executor  *resilience.Executor
	send      sendFunc
	now       func() time.Time
}

func NewSender(cfg Config, executor *resilience.Executor) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Sender{
		cfg:       cfg,
		templates: mustTemplates(),
		executor:  executor,
		send:      smtp.SendMail,
		now:       time.Now,
	}
}

// Send renders msg and hands it to the relay. Without a configured host the
// message is logged and dropped, which keeps local setups usable.
func (s *Sender) Send(ctx context.Context, msg domain.MailMessage) error {
	if s.cfg.Host == "" {
		slog.Info("mail_skipped_unconfigured", "to", msg.To, "template", msg.Template)
		return nil
	}
	raw, err := s.render(msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	call := func(context.Context) error {
		if err := s.send(addr, auth, s.cfg.From, []string{msg.To}, raw); err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	}

	if s.executor != nil {
		return s.executor.Execute(ctx, "smtp.send", call, classifySMTPError)
	}
	return call(ctx)
}

func (s *Sender) render(msg domain.MailMessage) ([]byte, error) {
	tmpl, ok := s.templates[msg.Template]
	if !ok {
		return nil, domain.Errorf(domain.ErrValidation, "render mail", "unknown template %q", msg.Template)
	}
	data := make(map[string]string, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	data["sender_name"] = s.cfg.FromName

	var subject, htmlBody, textBody bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.html.Execute(&htmlBody, data); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	if err := tmpl.text.Execute(&textBody, data); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}

	boundary := newBoundary()
	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}
	to := mail.Address{Name: msg.Name, Address: msg.To}

	var out bytes.Buffer
	writeHeader(&out, "From", from.String())
	writeHeader(&out, "To", to.String())
	writeHeader(&out, "Subject", mime.QEncoding.Encode("utf-8", subject.String()))
	writeHeader(&out, "Date", s.now().UTC().Format(time.RFC1123Z))
	writeHeader(&out, "MIME-Version", "1.0")
	writeHeader(&out, "Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
	out.WriteString("\r\n")

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", textBody.String()},
		{"text/html; charset=UTF-8", htmlBody.String()},
	} {
		out.WriteString("--" + boundary + "\r\n")
		writeHeader(&out, "Content-Type", part.contentType)
		writeHeader(&out, "Content-Transfer-Encoding", "quoted-printable")
		out.WriteString("\r\n")
		qp := quotedprintable.NewWriter(&out)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		out.WriteString("\r\n")
	}
	out.WriteString("--" + boundary + "--\r\n")
	return out.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(strings.NewReplacer("\r", "", "\n", "").Replace(value))
	buf.WriteString("\r\n")
}

func newBoundary() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return "ackdesk-" + hex.EncodeToString(b[:])
}

// classifySMTPError retries 4xx replies and network failures. 5xx replies are
// permanent for that address and do not count against the relay's breaker.
func classifySMTPError(err error) resilience.ErrorClassification {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case protoErr.Code >= 500:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	return resilience.ClassifyTransient(err)
}
