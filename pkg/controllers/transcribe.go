package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/models"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/sirupsen/logrus"
)

// Depositor runs the synchronous ingress path of a deposit.
type Depositor interface {
	Accept(ctx context.Context, d *request.Deposit, timeout time.Duration) (*models.Receipt, error)
}

// TranscribeController holds dependencies for the HTTPS deposit handlers.
type TranscribeController struct {
	AppConfig *config.AppConfig
	Deposit   Depositor
	logger    *logrus.Entry
}

// NewTranscribeController creates a new TranscribeController.
func NewTranscribeController(app *config.AppConfig, dm Depositor, logger *logrus.Logger) *TranscribeController {
	return &TranscribeController{
		AppConfig: app,
		Deposit:   dm,
		logger:    logger.WithField("controller", "transcribe"),
	}
}

// HandleTranscribe accepts POST and PUT /transcribe. The SCRID is returned in
// the Location header once the pipeline has been scheduled.
func (tc *TranscribeController) HandleTranscribe(c *fiber.Ctx) error {
	headers := make(request.Headers)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})

	// fasthttp reuses the request buffer once the handler returns
	body := make([]byte, len(c.Body()))
	copy(body, c.Body())

	d := &request.Deposit{
		DeliveryType: config.DeliveryHTTPS,
		Headers:      headers,
		Body:         body,
		RemoteAddr:   c.IP(),
	}

	receipt, err := tc.Deposit.Accept(c.UserContext(), d, tc.AppConfig.Https.ConsumeRequestTimeout)
	if err != nil {
		return tc.sendError(c, err)
	}

	c.Set(fiber.HeaderLocation, receipt.Scrid)
	return c.Status(fiber.StatusAccepted).SendString(receipt.Scrid)
}

func (tc *TranscribeController) sendError(c *fiber.Ctx, err error) error {
	var ve *config.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).SendString(ve.Reason)
	case errors.Is(err, config.ErrConsumeTimeout):
		return c.Status(fiber.StatusGatewayTimeout).SendString(config.ConsumeTimeoutMsg)
	case errors.Is(err, models.ErrPipelineClosed):
		return c.Status(fiber.StatusServiceUnavailable).SendString(err.Error())
	}

	tc.logger.WithError(err).Errorln("deposit failed")
	return c.Status(fiber.StatusInternalServerError).SendString("internal error")
}
