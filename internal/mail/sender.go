package mail

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to, subject, senderName, htmlBody string) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@thermoclinics.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) Send(to, subject, senderName, htmlBody string) error {
	msg := buildMessage(s.from, to, subject, senderName, htmlBody)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, senderName, body string) string {
	fromHeader := from
	if senderName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", senderName, from)
	}
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		fromHeader,
		to,
		subject,
		body,
	)
}
