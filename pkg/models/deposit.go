package models

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/metrics"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/services/natsservice"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

// Receipt is what the depositor gets back for an accepted deposit.
type Receipt struct {
	Scrid      string
	ReturnCode *templates.ReturnCode
}

// DepositModel is the synchronous ingress path shared by the HTTPS and SMTP
// servers: injest, acknowledge, then hand the request to the pipeline.
type DepositModel struct {
	app      *config.AppConfig
	engine   *templates.Engine
	profile  profiles.Profile
	injestor *InjestorModel
	pipeline *PipelineModel
	events   EventPublisher
	logger   *logrus.Entry
}

func NewDepositModel(app *config.AppConfig, engine *templates.Engine, profile profiles.Profile, injestor *InjestorModel, pipeline *PipelineModel, events EventPublisher, logger *logrus.Logger) *DepositModel {
	return &DepositModel{
		app:      app,
		engine:   engine,
		profile:  profile,
		injestor: injestor,
		pipeline: pipeline,
		events:   events,
		logger:   logger.WithField("model", "deposit"),
	}
}

const (
	acceptPending int32 = iota
	acceptCommitted
	acceptAbandoned
)

// Accept runs the ingress path within timeout. A deposit that times out is
// never scheduled.
func (m *DepositModel) Accept(ctx context.Context, d *request.Deposit, timeout time.Duration) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var state atomic.Int32
	type outcome struct {
		receipt *Receipt
		err     error
	}
	ch := make(chan outcome, 1)

	go func() {
		r, err := m.accept(ctx, d, &state)
		ch <- outcome{r, err}
	}()

	select {
	case o := <-ch:
		m.count(d.DeliveryType, o.err)
		return o.receipt, o.err
	case <-ctx.Done():
		if state.CompareAndSwap(acceptPending, acceptAbandoned) {
			metrics.Deposits.WithLabelValues(d.DeliveryType, metrics.OutcomeTimeout).Inc()
			return nil, fmt.Errorf("%w: %s", config.ErrConsumeTimeout, config.ConsumeTimeoutMsg)
		}
		// already handed to the pipeline
		o := <-ch
		m.count(d.DeliveryType, o.err)
		return o.receipt, o.err
	}
}

func (m *DepositModel) count(deliveryType string, err error) {
	outcome := metrics.OutcomeAccepted
	switch {
	case errors.Is(err, config.ErrConsumeTimeout):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeRejected
	}
	metrics.Deposits.WithLabelValues(deliveryType, outcome).Inc()
}

func (m *DepositModel) accept(ctx context.Context, d *request.Deposit, state *atomic.Int32) (*Receipt, error) {
	reqCtx, req, err := m.injestor.Injest(ctx, d)
	log := logging.FromContext(reqCtx, m.logger)
	if err != nil {
		if errors.Is(err, config.ErrValidation) {
			log.WithError(err).Warnln("deposit rejected")
		} else {
			log.WithError(err).Errorln("deposit could not be injested")
		}
		return nil, err
	}

	receipt := &Receipt{Scrid: req.Scrid}

	var ack *templates.Document
	if req.DeliveryType == config.DeliverySMTP {
		receipt.ReturnCode = m.smtpReturnCode(log, req)
		if ack, err = m.renderAck(req); err != nil {
			// the deposit itself is fine, only the acknowledgement is lost
			log.WithError(err).Errorln("after deposit acknowledgement could not be rendered")
			ack = nil
		}
	}

	if ctx.Err() != nil || !state.CompareAndSwap(acceptPending, acceptCommitted) {
		state.CompareAndSwap(acceptPending, acceptAbandoned)
		return nil, fmt.Errorf("%w: %s", config.ErrConsumeTimeout, config.ConsumeTimeoutMsg)
	}

	// req belongs to the pipeline once scheduled
	m.events.PublishEvent(natsservice.EventDeposited, req)
	deliveryType := req.DeliveryType

	if err = m.pipeline.Schedule(reqCtx, req); err != nil {
		log.WithError(err).Warnln("deposit not scheduled")
		m.events.PublishEvent(natsservice.EventFailed, req)
		return nil, err
	}
	log.Infoln("deposit accepted")

	if ack != nil {
		if err = m.pipeline.ScheduleAck(reqCtx, receipt.Scrid, deliveryType, ack); err != nil {
			log.WithError(err).Warnln("after deposit acknowledgement not scheduled")
		}
	}
	return receipt, nil
}

// renderAck renders after_deposit_ack.j2 before the pipeline touches the
// request; nil when the profile has none.
func (m *DepositModel) renderAck(req *request.Request) (*templates.Document, error) {
	if !m.engine.Has(config.AfterDepositAckTemplate) {
		return nil, nil
	}
	ctx := m.profile.AfterDepositAckContext(req, req.Context())
	doc, err := m.engine.RenderDocument(config.AfterDepositAckTemplate, ctx)
	if err != nil {
		return nil, err
	}
	m.profile.UpdateAfterDepositAckHook(req, doc)
	return doc, nil
}

func (m *DepositModel) smtpReturnCode(log *logrus.Entry, req *request.Request) *templates.ReturnCode {
	var rendered *templates.ReturnCode
	if m.engine.Has(config.SmtpReturnCodeTemplate) {
		ctx := m.profile.SmtpReturnCodeContext(req, req.Context())
		rc, err := m.engine.RenderReturnCode(ctx)
		if err != nil {
			log.WithError(err).Errorln("rendering smtp return code, using default")
		} else {
			rendered = rc
		}
	}
	return m.profile.SmtpReturnCode(req, rendered, m.app.Smtp.DefaultReturnCode)
}
