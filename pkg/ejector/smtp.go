package ejector

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

type SmtpDeliverer struct {
	host    string
	port    int
	helo    string
	timeout time.Duration
	logger  *logrus.Entry
}

func NewSmtpDeliverer(cnf config.EjectorInfo, logger *logrus.Entry) *SmtpDeliverer {
	return &SmtpDeliverer{
		host:    cnf.SmtpHost,
		port:    cnf.SmtpPort,
		helo:    cnf.SmtpHelo,
		timeout: cnf.SmtpTimeout,
		logger:  logger,
	}
}

// ParseResponseAddress splits "host:port". Both parts are required.
func ParseResponseAddress(addr string) (string, int, error) {
	host, p, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "", 0, fmt.Errorf("%s: %q", config.InvalidResponseAddr, addr)
	}
	port, err := strconv.Atoi(p)
	if host == "" || err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%s: %q", config.InvalidResponseAddr, addr)
	}
	return host, port, nil
}

func (s *SmtpDeliverer) address(doc *templates.Document) (string, error) {
	if doc.ResponseAddress == "" {
		return net.JoinHostPort(s.host, strconv.Itoa(s.port)), nil
	}
	host, port, err := ParseResponseAddress(doc.ResponseAddress)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Deliver sends the document as one mail. 4xx replies are final, 5xx and
// transport errors are retried. The mail counts as delivered once the
// server accepted DATA.
func (s *SmtpDeliverer) Deliver(ctx context.Context, doc *templates.Document) error {
	if doc.MailFrom == "" || len(doc.RcptTo) == 0 {
		return permanent(errors.New(config.MissingMailRecipients))
	}
	addr, err := s.address(doc)
	if err != nil {
		return permanent(err)
	}

	msg, err := BuildMessage(doc, time.Now())
	if err != nil {
		return permanent(err)
	}

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifySmtp(ctx, fmt.Errorf("connecting to %s: %w", addr, err))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	c, err := s.newClient(ctx, conn, addr, doc)
	if err != nil {
		_ = conn.Close()
		return classifySmtp(ctx, err)
	}
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	defer c.Close()

	if err = c.Hello(s.helo); err != nil {
		return classifySmtp(ctx, err)
	}
	if err = c.Mail(doc.MailFrom, nil); err != nil {
		return classifySmtp(ctx, err)
	}
	for _, rcpt := range doc.RcptTo {
		if err = c.Rcpt(rcpt, nil); err != nil {
			return classifySmtp(ctx, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return classifySmtp(ctx, err)
	}
	if _, err = w.Write(msg); err != nil {
		_ = w.Close()
		return classifySmtp(ctx, err)
	}
	if err = w.Close(); err != nil {
		return classifySmtp(ctx, err)
	}

	// accepted, a failing QUIT must not cause a second delivery
	if err = c.Quit(); err != nil {
		logging.FromContext(ctx, s.logger).WithError(err).WithField("addr", addr).Warnln("smtp QUIT failed after the mail was accepted")
	}
	return nil
}

// newClient greets the server, upgrading the connection first when the
// document asks for STARTTLS.
func (s *SmtpDeliverer) newClient(ctx context.Context, conn net.Conn, addr string, doc *templates.Document) (*smtp.Client, error) {
	if !doc.StartTLS {
		return smtp.NewClient(conn), nil
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: !doc.VerifySSL,
		MinVersion:         tls.VersionTLS12,
	}

	// the handshake runs before CommandTimeout can be set
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if !stop() {
		if err == nil {
			_ = c.Close()
		}
		return nil, fmt.Errorf("starttls with %s: %w", addr, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("starttls with %s: %w", addr, err)
	}
	return c, nil
}

func classifySmtp(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return permanent(fmt.Errorf("%w: %v", ctxErr, err))
	}
	var se *smtp.SMTPError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return permanent(err)
	}
	return err
}

// BuildMessage serialises the rendered headers and body, adding the
// envelope headers a template did not set.
func BuildMessage(doc *templates.Document, now time.Time) ([]byte, error) {
	var h textproto.Header
	for _, name := range doc.HeaderNames() {
		h.Add(name, doc.Headers[name])
	}
	if !h.Has("From") {
		h.Set("From", doc.MailFrom)
	}
	if !h.Has("To") {
		h.Set("To", strings.Join(doc.RcptTo, ", "))
	}
	if !h.Has("Date") {
		h.Set("Date", now.Format(time.RFC1123Z))
	}
	if !h.Has("Message-Id") {
		domain := "v2tic"
		if _, d, ok := strings.Cut(doc.MailFrom, "@"); ok && d != "" {
			domain = strings.Trim(d, "<> ")
		}
		h.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	}
	if !h.Has("Mime-Version") {
		h.Set("Mime-Version", "1.0")
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, err
	}
	buf.WriteString(toCRLF(doc.Body))
	return buf.Bytes(), nil
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if s != "" && !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}
