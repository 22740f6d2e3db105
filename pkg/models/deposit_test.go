package models

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/services/natsservice"
	"github.com/mynaparrot/v2tic-server/pkg/transcoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeposit(t *testing.T, profile string, tr Transcoder) (*DepositModel, *pipelineFixture) {
	t.Helper()
	f := newPipelineFixture(t, profile, tr, fixedRecognizer("hello", 95), nil)
	m := NewDepositModel(testApp(), testEngine(t, profile), testProfile(t, profile), f.injestor, f.pipeline, f.events, logging.NewNopLogger())
	return m, f
}

func smtpDeposit() *request.Deposit {
	return &request.Deposit{
		DeliveryType: config.DeliverySMTP,
		Headers: request.Headers{
			"X-Reference":        "ref-9",
			"To":                 "v2t@example.com",
			"X-CNS-Voice-Writer": "true",
			"X-CNS-Language":     "eng",
		},
		Body:        []byte("decoded audio"),
		BodyDecoded: true,
		MailFrom:    "vm@carrier.example.com",
		RcptTo:      []string{"v2t@example.com"},
	}
}

func TestDeposit_AcceptHttps(t *testing.T) {
	m, f := newTestDeposit(t, profiles.GenericHttpsName, passThrough())

	receipt, err := m.Accept(context.Background(), httpsDeposit([]byte("audio")), time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Scrid)
	assert.Nil(t, receipt.ReturnCode)

	out := f.ejector.next(t)
	assert.Equal(t, receipt.Scrid, decodeBody(t, out.doc.Body)["scrid"])
	waitIdle(t, f.pipeline)
	assert.Equal(t, []string{natsservice.EventDeposited, natsservice.EventEjected}, f.events.list())
}

func TestDeposit_Rejected(t *testing.T) {
	m, f := newTestDeposit(t, profiles.GenericHttpsName, passThrough())
	d := httpsDeposit(nil)

	receipt, err := m.Accept(context.Background(), d, time.Second)
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.True(t, errors.Is(err, config.ErrValidation))
	assert.Equal(t, 0, f.pipeline.InFlight())
	assert.Empty(t, f.events.list())
}

func TestDeposit_ConsumeTimeoutNeverSchedules(t *testing.T) {
	var transcoded atomic.Bool
	tr := transcodeFunc(func(_ context.Context, audio []byte, _ int) (*transcoder.Result, error) {
		transcoded.Store(true)
		return &transcoder.Result{PCM: audio}, nil
	})
	m, f := newTestDeposit(t, profiles.GenericHttpsName, tr)

	receipt, err := m.Accept(context.Background(), httpsDeposit([]byte("audio")), 0)
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.True(t, errors.Is(err, config.ErrConsumeTimeout))
	assert.Contains(t, err.Error(), config.ConsumeTimeoutMsg)

	// give a wrongly scheduled task the chance to show up
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.pipeline.InFlight())
	assert.False(t, transcoded.Load())
	assert.Empty(t, f.events.list())
}

func TestDeposit_SmtpReturnCodeFromTemplate(t *testing.T) {
	m, f := newTestDeposit(t, profiles.GenericSmtpName, passThrough())

	receipt, err := m.Accept(context.Background(), smtpDeposit(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, receipt.ReturnCode)
	assert.Equal(t, 250, receipt.ReturnCode.Code)
	assert.Equal(t, "OK queued as "+receipt.Scrid, receipt.ReturnCode.Message)

	out := f.ejector.next(t)
	assert.Equal(t, config.DeliverySMTP, out.deliveryType)
	assert.Equal(t, "v2t@example.com", out.doc.MailFrom)
	assert.Equal(t, []string{"vm@carrier.example.com"}, out.doc.RcptTo)
	assert.Equal(t, "Transcription of ref-9", out.doc.Header("Subject"))
}

func TestDeposit_CnsAcknowledges(t *testing.T) {
	m, f := newTestDeposit(t, profiles.CnsSmtpName, passThrough())

	receipt, err := m.Accept(context.Background(), smtpDeposit(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, receipt.ReturnCode)
	assert.Equal(t, 250, receipt.ReturnCode.Code)

	var ack, response *ejected
	for i := 0; i < 2; i++ {
		out := f.ejector.next(t)
		if strings.HasPrefix(out.doc.Header("Subject"), "ACK ") {
			ack = &out
		} else {
			response = &out
		}
	}
	require.NotNil(t, ack)
	require.NotNil(t, response)

	assert.Equal(t, "ACK ref-9", ack.doc.Header("Subject"))
	assert.Equal(t, "Accepted "+receipt.Scrid, ack.doc.Body)
	assert.Equal(t, profiles.ErrCodeSuccess, response.doc.Header("X-Error-Code"))
	waitIdle(t, f.pipeline)
}

func TestDeposit_DepositedPublishedBeforePipelineRuns(t *testing.T) {
	var f *pipelineFixture
	var seen atomic.Value
	tr := transcodeFunc(func(ctx context.Context, audio []byte, maxSecs int) (*transcoder.Result, error) {
		seen.Store(f.events.list())
		return passThrough()(ctx, audio, maxSecs)
	})
	var m *DepositModel
	m, f = newTestDeposit(t, profiles.GenericHttpsName, tr)

	for i := 0; i < 20; i++ {
		_, err := m.Accept(context.Background(), httpsDeposit([]byte("audio")), time.Second)
		require.NoError(t, err)
		f.ejector.next(t)
		waitIdle(t, f.pipeline)

		assert.Contains(t, seen.Load(), natsservice.EventDeposited)
		events := f.events.list()
		assert.Equal(t, natsservice.EventDeposited, events[len(events)-2])
		assert.Equal(t, natsservice.EventEjected, events[len(events)-1])
	}
}

func TestDeposit_NotScheduledAfterShutdown(t *testing.T) {
	m, f := newTestDeposit(t, profiles.GenericHttpsName, passThrough())
	require.NoError(t, f.pipeline.Shutdown(context.Background()))

	receipt, err := m.Accept(context.Background(), httpsDeposit([]byte("audio")), time.Second)
	require.ErrorIs(t, err, ErrPipelineClosed)
	assert.Nil(t, receipt)
	assert.Equal(t, []string{natsservice.EventDeposited, natsservice.EventFailed}, f.events.list())
}

func TestDeposit_CnsAckWithQuotedReference(t *testing.T) {
	m, f := newTestDeposit(t, profiles.CnsSmtpName, passThrough())
	ref := `ref "9" \ {{x}}`
	d := smtpDeposit()
	d.Headers["X-Reference"] = ref

	receipt, err := m.Accept(context.Background(), d, time.Second)
	require.NoError(t, err)

	var ack, response *ejected
	for i := 0; i < 2; i++ {
		out := f.ejector.next(t)
		if strings.HasPrefix(out.doc.Header("Subject"), "ACK ") {
			ack = &out
		} else {
			response = &out
		}
	}
	require.NotNil(t, ack, "acknowledgement was dropped")
	require.NotNil(t, response)

	assert.Equal(t, "ACK "+ref, ack.doc.Header("Subject"))
	assert.Equal(t, ref, ack.doc.Header("X-Reference"))
	assert.Equal(t, "Accepted "+receipt.Scrid, ack.doc.Body)
	assert.Equal(t, "VTT "+ref, response.doc.Header("Subject"))
	waitIdle(t, f.pipeline)
}
