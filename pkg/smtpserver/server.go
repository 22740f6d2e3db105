package smtpserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/sirupsen/logrus"
)

// Depositor runs the synchronous ingress path of a deposit.
type Depositor interface {
	Accept(ctx context.Context, d *request.Deposit, timeout time.Duration) (*models.Receipt, error)
}

type backend struct {
	cnf     config.SmtpInfo
	deposit Depositor
	logger  *logrus.Entry
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{
		backend: b,
		remote:  remote,
		logger:  b.logger.WithField("remote_addr", remote),
	}, nil
}

// Server is the SMTP ingress. Every DATA command becomes one deposit.
type Server struct {
	cnf    config.SmtpInfo
	srv    *smtp.Server
	logger *logrus.Entry
}

func NewServer(app *config.AppConfig, deposit Depositor, logger *logrus.Logger) (*Server, error) {
	cnf := app.Smtp
	log := logger.WithField("server", "smtp")

	srv := smtp.NewServer(&backend{cnf: cnf, deposit: deposit, logger: log})
	srv.Addr = net.JoinHostPort(cnf.Host, fmt.Sprint(cnf.Port))
	srv.Domain = cnf.Domain
	srv.ReadTimeout = cnf.ReadTimeout
	srv.WriteTimeout = cnf.WriteTimeout
	srv.MaxMessageBytes = cnf.MaxMessageBytes
	srv.MaxRecipients = 50
	srv.AllowInsecureAuth = true

	if cnf.CertFile != "" && cnf.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cnf.CertFile, cnf.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading smtp certificate: %v", config.ErrConfiguration, err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &Server{cnf: cnf, srv: srv, logger: log}, nil
}

func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe blocks until the server is shut down. STARTTLS is offered
// whenever a certificate is configured; implicit TLS wraps the listener.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logrus.Fields{
		"addr":         s.srv.Addr,
		"implicit_tls": s.cnf.ImplicitTLS,
		"starttls":     s.srv.TLSConfig != nil && !s.cnf.ImplicitTLS,
	}).Infoln("smtp server listening")

	if s.cnf.ImplicitTLS {
		return s.srv.ListenAndServeTLS()
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Serve(l net.Listener) error {
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
