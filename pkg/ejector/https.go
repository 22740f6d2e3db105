package ejector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
)

type HttpsDeliverer struct {
	timeout time.Duration
}

func NewHttpsDeliverer(timeout time.Duration) *HttpsDeliverer {
	if timeout <= 0 {
		timeout = config.DefaultEjectorTimeout
	}
	return &HttpsDeliverer{timeout: timeout}
}

// Deliver sends the document body to return_url. Only 200 and 202 count as delivered.
func (h *HttpsDeliverer) Deliver(ctx context.Context, doc *templates.Document) error {
	if doc.ReturnURL == "" {
		return permanent(errors.New(config.MissingReturnURL))
	}

	var a *fiber.Agent
	switch strings.ToUpper(doc.Method) {
	case "", fiber.MethodPost:
		a = fiber.Post(doc.ReturnURL)
	case fiber.MethodPut:
		a = fiber.Put(doc.ReturnURL)
	default:
		return permanent(fmt.Errorf("unsupported delivery method %q", doc.Method))
	}

	timeout := h.timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	a.Timeout(timeout)
	if !doc.VerifySSL {
		a.InsecureSkipVerify()
	}
	for _, name := range doc.HeaderNames() {
		a.Set(name, doc.Headers[name])
	}
	a.Body([]byte(doc.Body))

	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return permanent(fmt.Errorf("invalid return_url %q: %w", doc.ReturnURL, err))
	}

	// the agent has no context of its own, an abandoned call ends on its timeout
	type reply struct {
		code int
		body []byte
		errs []error
	}
	replies := make(chan reply, 1)
	go func() {
		code, body, errs := a.Bytes()
		replies <- reply{code, body, errs}
	}()

	var r reply
	select {
	case <-ctx.Done():
		return permanent(fmt.Errorf("posting to %s: %w", doc.ReturnURL, ctx.Err()))
	case r = <-replies:
	}
	if len(r.errs) > 0 {
		return fmt.Errorf("posting to %s: %w", doc.ReturnURL, errors.Join(r.errs...))
	}
	code, body := r.code, r.body

	switch code {
	case fiber.StatusOK, fiber.StatusAccepted:
		return nil
	}

	err := &StatusError{Code: code, Message: truncate(string(body), 256)}
	if retryableHTTPStatus(code) {
		return err
	}
	return permanent(err)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
