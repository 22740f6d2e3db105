package smtpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMail = "From: vm@carrier.example.com\r\n" +
	"To: v2t@example.com\r\n" +
	"Subject: =?utf-8?q?Nachricht_f=C3=BCr_Sie?=\r\n" +
	"X-Reference: ref-42\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: audio/wav\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"UklG\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: audio/wav\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"V0FWRQ==\r\n" +
	"--BOUNDARY--\r\n"

func TestParseMessage_Multipart(t *testing.T) {
	msg, err := ParseMessage(strings.NewReader(multipartMail))
	require.NoError(t, err)

	assert.Equal(t, "ref-42", msg.Headers.Get("X-Reference"))
	assert.Equal(t, "Nachricht für Sie", msg.Headers.Get("Subject"))
	assert.Equal(t, []byte("RIFWAVE"), msg.Body)
}

func TestParseMessage_SinglePart(t *testing.T) {
	mail := "To: v2t@example.com\r\n" +
		"X-Reference: ref-1\r\n" +
		"Content-Type: audio/wav\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"UklGRg==  \r\n\r\n"

	msg, err := ParseMessage(strings.NewReader(mail))
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), msg.Body)
	assert.Equal(t, "base64", msg.Headers.Get("content-transfer-encoding"))
}

type fakeDepositor struct {
	mu   sync.Mutex
	err  error
	rc   *templates.ReturnCode
	got  []*request.Deposit
	wait time.Duration
}

func (f *fakeDepositor) Accept(_ context.Context, d *request.Deposit, timeout time.Duration) (*models.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, d)
	f.wait = timeout
	if f.err != nil {
		return nil, f.err
	}
	return &models.Receipt{Scrid: "20240101000000-test-1-1", ReturnCode: f.rc}, nil
}

func (f *fakeDepositor) deposits() []*request.Deposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*request.Deposit(nil), f.got...)
}

func startServer(t *testing.T, dep Depositor) string {
	t.Helper()
	app := &config.AppConfig{Smtp: config.SmtpInfo{
		Host:                  "127.0.0.1",
		Domain:                "localhost",
		ConsumeRequestTimeout: 2 * time.Second,
		DefaultReturnCode:     250,
		MaxMessageBytes:       1 << 20,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	}}
	s, err := NewServer(app, dep, logging.NewNopLogger())
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return l.Addr().String()
}

// send delivers mail and returns the error of the final DATA reply.
func send(t *testing.T, addr, mail string) (*smtp.DataResponse, error) {
	t.Helper()
	c, err := smtp.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("mta.example.com"))
	require.NoError(t, c.Mail("vm@carrier.example.com", nil))
	require.NoError(t, c.Rcpt("v2t@example.com", nil))
	w, err := c.Data()
	require.NoError(t, err)
	_, err = fmt.Fprint(w, mail)
	require.NoError(t, err)
	return w.CloseWithResponse()
}

func TestSession_Accepted(t *testing.T) {
	dep := &fakeDepositor{rc: &templates.ReturnCode{Code: 250, Message: "OK queued as 20240101000000-test-1-1"}}
	addr := startServer(t, dep)

	res, err := send(t, addr, multipartMail)
	require.NoError(t, err)
	assert.Contains(t, res.StatusText, "queued as 20240101000000-test-1-1")

	got := dep.deposits()
	require.Len(t, got, 1)
	d := got[0]
	assert.Equal(t, config.DeliverySMTP, d.DeliveryType)
	assert.True(t, d.BodyDecoded)
	assert.Equal(t, []byte("RIFWAVE"), d.Body)
	assert.Equal(t, "vm@carrier.example.com", d.MailFrom)
	assert.Equal(t, []string{"v2t@example.com"}, d.RcptTo)
	assert.Equal(t, "ref-42", d.Headers.Get("X-Reference"))
	assert.Equal(t, 2*time.Second, dep.wait)
}

func TestSession_ToFromEnvelope(t *testing.T) {
	dep := &fakeDepositor{}
	addr := startServer(t, dep)

	mail := "X-Reference: ref-1\r\nContent-Type: audio/wav\r\n\r\nRIFF"
	_, err := send(t, addr, mail)
	require.NoError(t, err)

	d := dep.deposits()[0]
	assert.Equal(t, "v2t@example.com", d.Headers.Get("To"))
	assert.Equal(t, "vm@carrier.example.com", d.Headers.Get("From"))
}

func TestSession_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"missing audio", config.NewValidationError(config.MissingAudio), 550, config.MissingAudio},
		{"consume timeout", fmt.Errorf("%w: %s", config.ErrConsumeTimeout, config.ConsumeTimeoutMsg), 451, config.ConsumeTimeoutMsg},
		{"shutting down", models.ErrPipelineClosed, 421, "Service shutting down"},
		{"other", errors.New("boom"), 451, "Local error in processing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := startServer(t, &fakeDepositor{err: tt.err})

			_, err := send(t, addr, multipartMail)
			require.Error(t, err)
			var se *smtp.SMTPError
			require.True(t, errors.As(err, &se), "%v", err)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.wantText, se.Message)
		})
	}
}

func TestSession_RenderedFailureCode(t *testing.T) {
	dep := &fakeDepositor{rc: &templates.ReturnCode{Code: 554, Message: "Rejected by profile"}}
	addr := startServer(t, dep)

	_, err := send(t, addr, multipartMail)
	var se *smtp.SMTPError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 554, se.Code)
	assert.Equal(t, "Rejected by profile", se.Message)
}
