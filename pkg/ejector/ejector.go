package ejector

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/metrics"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

// Deliverer sends one rendered document once. Errors wrapped with
// backoff.Permanent are not retried.
type Deliverer interface {
	Deliver(ctx context.Context, doc *templates.Document) error
}

type Ejector struct {
	deliverers map[string]Deliverer
	retrier    *Retrier
	logger     *logrus.Entry
}

// New returns an ejector with the HTTPS and SMTP deliverers registered.
func New(app *config.AppConfig, logger *logrus.Logger) *Ejector {
	e := &Ejector{
		deliverers: make(map[string]Deliverer),
		retrier:    NewRetrier(app.Ejector.Retry),
		logger:     logger.WithField("component", config.ComponentEjector),
	}
	e.Register(config.DeliveryHTTPS, NewHttpsDeliverer(app.Ejector.HttpsTimeout))
	e.Register(config.DeliverySMTP, NewSmtpDeliverer(app.Ejector, e.logger))
	return e
}

func (e *Ejector) Register(deliveryType string, d Deliverer) {
	e.deliverers[deliveryType] = d
}

// Eject delivers doc with the shared retry policy.
func (e *Ejector) Eject(ctx context.Context, deliveryType string, doc *templates.Document) (Stats, error) {
	log := logging.FromContext(ctx, e.logger).WithField("delivery_type", deliveryType)

	d, ok := e.deliverers[deliveryType]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %s %q", config.ErrEjector, config.UnsupportedDelivery, deliveryType)
	}

	stats, err := e.retrier.Do(ctx, log, func(attempt int) error {
		metrics.EjectionAttempts.WithLabelValues(deliveryType).Inc()
		return d.Deliver(ctx, doc)
	})
	if err != nil {
		metrics.Ejections.WithLabelValues(deliveryType, metrics.OutcomeFailed).Inc()
		log.WithError(err).WithFields(stats.Fields()).Errorln("delivery failed")
		if errors.Is(err, config.ErrEjector) {
			return stats, err
		}
		return stats, fmt.Errorf("%w: %w", config.ErrEjector, err)
	}

	metrics.Ejections.WithLabelValues(deliveryType, metrics.OutcomeSuccess).Inc()
	log.WithFields(stats.Fields()).Infoln("delivered")
	return stats, nil
}

// StatusError is a delivery endpoint reply that was not a success.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// retryableHTTPStatus reports whether an HTTP status is worth another attempt.
func retryableHTTPStatus(code int) bool {
	return code >= 500 || code == 408 || code == 429
}

func permanent(err error) error {
	return backoff.Permanent(err)
}
