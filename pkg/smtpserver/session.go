package smtpserver

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/sirupsen/logrus"
)

type session struct {
	backend *backend
	remote  string
	from    string
	rcpt    []string
	logger  *logrus.Entry
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.rcpt = append(s.rcpt, to)
	return nil
}

// Data turns the message into a deposit. The reply is always an SMTPError so
// the code and text chosen by the profile reach the MTA unchanged, 2xx included.
func (s *session) Data(r io.Reader) error {
	msg, err := ParseMessage(r)
	if err != nil {
		s.logger.WithError(err).Warnln("malformed message")
		return &smtp.SMTPError{Code: 554, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: "Malformed message"}
	}

	headers := msg.Headers
	if !headers.Has("To") && len(s.rcpt) > 0 {
		headers["To"] = strings.Join(s.rcpt, ", ")
	}
	if !headers.Has("From") && s.from != "" {
		headers["From"] = s.from
	}

	d := &request.Deposit{
		DeliveryType: config.DeliverySMTP,
		Headers:      headers,
		Body:         msg.Body,
		BodyDecoded:  true,
		MailFrom:     s.from,
		RcptTo:       append([]string(nil), s.rcpt...),
		RemoteAddr:   s.remote,
	}

	receipt, err := s.backend.deposit.Accept(context.Background(), d, s.backend.cnf.ConsumeRequestTimeout)
	if err != nil {
		return s.reply(err)
	}

	rc := receipt.ReturnCode
	if rc == nil {
		return &smtp.SMTPError{Code: s.backend.cnf.DefaultReturnCode, EnhancedCode: smtp.EnhancedCodeNotSet, Message: "OK queued as " + receipt.Scrid}
	}
	return &smtp.SMTPError{Code: rc.Code, EnhancedCode: smtp.EnhancedCodeNotSet, Message: rc.Message}
}

func (s *session) reply(err error) error {
	var ve *config.ValidationError
	switch {
	case errors.As(err, &ve):
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 6, 0}, Message: ve.Reason}
	case errors.Is(err, config.ErrConsumeTimeout):
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 4, 2}, Message: config.ConsumeTimeoutMsg}
	case errors.Is(err, models.ErrPipelineClosed):
		return &smtp.SMTPError{Code: 421, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Service shutting down"}
	}

	s.logger.WithError(err).Errorln("deposit failed")
	return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Local error in processing"}
}

func (s *session) Reset() {
	s.from = ""
	s.rcpt = nil
}

func (s *session) Logout() error {
	return nil
}
