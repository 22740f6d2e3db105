package controllers

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDepositor struct {
	err      error
	got      *request.Deposit
	timeout  time.Duration
	receipts int
}

func (f *fakeDepositor) Accept(_ context.Context, d *request.Deposit, timeout time.Duration) (*models.Receipt, error) {
	f.got = d
	f.timeout = timeout
	if f.err != nil {
		return nil, f.err
	}
	f.receipts++
	return &models.Receipt{Scrid: fmt.Sprintf("20240101000000-test-1-%d", f.receipts)}, nil
}

func newTestApp(dep Depositor) *fiber.App {
	app := &config.AppConfig{Https: config.HttpsInfo{ConsumeRequestTimeout: 3 * time.Second}}
	logger := logging.NewNopLogger()
	tc := NewTranscribeController(app, dep, logger)

	f := fiber.New(fiber.Config{DisableHeaderNormalizing: true})
	f.Post("/transcribe", tc.HandleTranscribe)
	f.Put("/transcribe", tc.HandleTranscribe)
	f.Post("/response", NewResponseStubController(logger).HandleResponse)
	f.Get("/healthCheck", NewHealthCheckController().HandleHealthCheck)
	return f
}

func readBody(t *testing.T, body io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(b)
}

func TestHandleTranscribe_Accepted(t *testing.T) {
	for _, method := range []string{fiber.MethodPost, fiber.MethodPut} {
		t.Run(method, func(t *testing.T) {
			dep := &fakeDepositor{}
			app := newTestApp(dep)

			req := httptest.NewRequest(method, "/transcribe", strings.NewReader("UklGRg=="))
			req.Header.Set("X-Reference", "ref-1")
			req.Header.Set("X-Return-URL", "https://sink.example.com")
			req.Header.Set("Content-Encoding", "base64")

			res, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusAccepted, res.StatusCode)
			assert.Equal(t, "20240101000000-test-1-1", res.Header.Get(fiber.HeaderLocation))

			require.NotNil(t, dep.got)
			assert.Equal(t, config.DeliveryHTTPS, dep.got.DeliveryType)
			assert.Equal(t, "ref-1", dep.got.Headers.Get("X-Reference"))
			assert.Equal(t, "https://sink.example.com", dep.got.Headers.Get("x-return-url"))
			assert.Equal(t, []byte("UklGRg=="), dep.got.Body)
			assert.Equal(t, 3*time.Second, dep.timeout)
		})
	}
}

func TestHandleTranscribe_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"missing audio", config.NewValidationError(config.MissingAudio), fiber.StatusBadRequest, "Missing audio"},
		{"missing header", config.NewValidationError("Missing header: X-Reference"), fiber.StatusBadRequest, "Missing header: X-Reference"},
		{"consume timeout", fmt.Errorf("%w: %s", config.ErrConsumeTimeout, config.ConsumeTimeoutMsg), fiber.StatusGatewayTimeout, config.ConsumeTimeoutMsg},
		{"shutting down", models.ErrPipelineClosed, fiber.StatusServiceUnavailable, models.ErrPipelineClosed.Error()},
		{"template failure", fmt.Errorf("rendering request.j2: boom"), fiber.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(&fakeDepositor{err: tt.err})

			res, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/transcribe", nil), -1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.StatusCode)
			assert.Equal(t, tt.wantBody, readBody(t, res.Body))
			assert.Empty(t, res.Header.Get(fiber.HeaderLocation))
		})
	}
}

func TestHandleResponse(t *testing.T) {
	app := newTestApp(&fakeDepositor{})
	res, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/response", strings.NewReader(`{"status":"SUCCESS"}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, res.StatusCode)
}

func TestHandleHealthCheck(t *testing.T) {
	app := newTestApp(&fakeDepositor{})
	res, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthCheck", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", readBody(t, res.Body))
}
