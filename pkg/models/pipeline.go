package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/ejector"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/metrics"
	"github.com/mynaparrot/v2tic-server/pkg/recognizer"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/services/natsservice"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/mynaparrot/v2tic-server/pkg/transcoder"
	"github.com/sirupsen/logrus"
)

var ErrPipelineClosed = errors.New("pipeline is shutting down")

type Transcoder interface {
	Transcode(ctx context.Context, audio []byte, maxAudioLengthSecs int) (*transcoder.Result, error)
}

type Ejector interface {
	Eject(ctx context.Context, deliveryType string, doc *templates.Document) (ejector.Stats, error)
}

type EventPublisher interface {
	PublishEvent(event string, req *request.Request)
}

// PipelineModel runs transcode, transcribe and response for each scheduled
// request on a bounded worker pool, ejects the result, and keeps track of
// them until they are delivered or dropped.
type PipelineModel struct {
	app             *config.AppConfig
	transcoder      Transcoder
	recognizer      recognizer.Recognizer
	responseCreator *ResponseCreatorModel
	ejector         Ejector
	events          EventPublisher
	pool            *workerpool.WorkerPool
	logger          *logrus.Entry

	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func NewPipelineModel(app *config.AppConfig, tr Transcoder, rec recognizer.Recognizer, rc *ResponseCreatorModel, ej Ejector, events EventPublisher, logger *logrus.Logger) *PipelineModel {
	return &PipelineModel{
		app:             app,
		transcoder:      tr,
		recognizer:      rec,
		responseCreator: rc,
		ejector:         ej,
		events:          events,
		pool:            workerpool.New(max(1, app.Recognizer.MaxWorkers)),
		logger:          logger.WithField("model", "pipeline"),
		tasks:           make(map[string]context.CancelFunc),
	}
}

// track registers a detached task under key. The returned context is
// cancelled by Shutdown.
func (m *PipelineModel) track(ctx context.Context, key string) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, ErrPipelineClosed
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.tasks[key] = cancel
	m.wg.Add(1)
	metrics.InFlight.Inc()

	done := func() {
		cancel()
		m.mu.Lock()
		delete(m.tasks, key)
		m.mu.Unlock()
		metrics.InFlight.Dec()
		m.wg.Done()
	}
	return taskCtx, done, nil
}

// Schedule hands req to the worker pool. ctx should carry the request logger;
// its cancellation does not stop the pipeline. The pool bounds the
// recognition stages only, ejection and its retries run outside it.
func (m *PipelineModel) Schedule(ctx context.Context, req *request.Request) error {
	taskCtx, done, err := m.track(ctx, req.Scrid)
	if err != nil {
		return err
	}

	start := time.Now()
	m.pool.Submit(func() {
		doc := m.process(taskCtx, req)
		if doc == nil {
			done()
			return
		}
		go func() {
			defer done()
			m.eject(taskCtx, req, doc, start)
		}()
	})
	return nil
}

// ScheduleAck delivers an already rendered after-deposit acknowledgement
// independently of the pipeline.
func (m *PipelineModel) ScheduleAck(ctx context.Context, scrid, deliveryType string, doc *templates.Document) error {
	taskCtx, done, err := m.track(ctx, scrid+"#ack")
	if err != nil {
		return err
	}

	go func() {
		defer done()
		log := logging.FromContext(taskCtx, m.logger)
		if _, err := m.ejector.Eject(taskCtx, deliveryType, doc); err != nil {
			log.WithError(err).Errorln("after deposit acknowledgement dropped")
			return
		}
		log.Infoln("after deposit acknowledgement delivered")
	}()
	return nil
}

// process runs transcode, transcribe and the response; nil when the
// request was dropped.
func (m *PipelineModel) process(ctx context.Context, req *request.Request) *templates.Document {
	log := logging.FromContext(ctx, m.logger)

	m.transcode(ctx, req)
	m.transcribe(ctx, req)

	stageStart := time.Now()
	doc, err := m.responseCreator.Create(ctx, req, time.Now())
	metrics.StageDuration.WithLabelValues(config.ComponentResponse).Observe(time.Since(stageStart).Seconds())
	req.Release()
	if err != nil {
		log.WithError(err).Errorln("response could not be created, request dropped")
		m.events.PublishEvent(natsservice.EventFailed, req)
		return nil
	}
	return doc
}

func (m *PipelineModel) eject(ctx context.Context, req *request.Request, doc *templates.Document, start time.Time) {
	log := logging.FromContext(ctx, m.logger)

	stageStart := time.Now()
	stats, err := m.ejector.Eject(ctx, req.DeliveryType, doc)
	metrics.StageDuration.WithLabelValues(config.ComponentEjector).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		log.WithError(err).WithFields(stats.Fields()).Errorln("ejection failed, request dropped")
		m.events.PublishEvent(natsservice.EventFailed, req)
		return
	}

	m.events.PublishEvent(natsservice.EventEjected, req)
	log.WithFields(logrus.Fields{
		"status": req.Status(),
		"took":   time.Since(start).Round(time.Millisecond),
	}).Infoln("request completed")
}

func (m *PipelineModel) note(log *logrus.Entry, req *request.Request, component string, err error) {
	metrics.Notes.WithLabelValues(component).Inc()
	log.WithError(err).Errorf("%s failed", component)
	req.AddNote(component, err.Error())
}

func (m *PipelineModel) transcode(ctx context.Context, req *request.Request) {
	log := logging.FromContext(ctx, m.logger).WithField("component", config.ComponentTranscoder)
	if req.HasNotes() {
		log.Infoln("skipped")
		return
	}

	start := time.Now()
	res, err := m.transcoder.Transcode(ctx, req.Audio, req.Metadata.MaxAudioLengthSecs)
	metrics.StageDuration.WithLabelValues(config.ComponentTranscoder).Observe(time.Since(start).Seconds())
	if err != nil {
		m.note(log, req, config.ComponentTranscoder, err)
		return
	}

	req.Audio = res.PCM
	if req.Metadata.AudioInfo == nil {
		req.Metadata.AudioInfo = &request.AudioInfo{}
	}
	req.Metadata.AudioInfo.DurationS = res.DurationS
	req.Metadata.AudioInfo.AudioTruncated = res.Truncated
}

func (m *PipelineModel) transcribe(ctx context.Context, req *request.Request) {
	log := logging.FromContext(ctx, m.logger).WithField("component", config.ComponentRecognizer)
	if req.HasNotes() {
		log.Infoln("skipped")
		return
	}

	md := &req.Metadata
	rctx, cancel := context.WithTimeout(ctx, recognizer.Deadline(md.MaxAudioLengthSecs, m.app.Recognizer.TimeoutMargin))
	defer cancel()

	start := time.Now()
	res, err := m.recognizer.Recognize(rctx, req.Audio, recognizer.Options{
		Languages:          md.RequestedLanguages,
		LIDEnabled:         md.LIDEnabled,
		LIDMode:            m.app.Recognizer.LIDMode,
		MaxAudioLengthSecs: md.MaxAudioLengthSecs,
		Properties:         stringProperties(md.ACSClient),
	})
	metrics.StageDuration.WithLabelValues(config.ComponentRecognizer).Observe(time.Since(start).Seconds())
	if err != nil {
		m.note(log, req, config.ComponentRecognizer, err)
		return
	}

	rr := &request.RecognitionResult{
		Text:                  res.Text,
		DisplayText:           res.DisplayText,
		ITNText:               res.ITNText,
		GlobalConfidenceScore: res.Confidence,
		LIDEnabled:            md.LIDEnabled,
	}
	if md.AudioInfo != nil {
		rr.FinalAudioLengthSecs = md.AudioInfo.DurationS
	}
	if md.LIDEnabled {
		rr.DetectedLanguages = res.DetectedLanguages
		rr.DetectedLanguage = strings.Join(res.DetectedLanguages, ",")
	}
	req.RecognitionResult = rr
}

func stringProperties(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// InFlight is the number of scheduled tasks not yet finished.
func (m *PipelineModel) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown refuses new work, cancels every in-flight task and waits for
// them to unwind or for ctx to end.
func (m *PipelineModel) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.tasks {
		cancel()
	}
	pending := len(m.tasks)
	m.mu.Unlock()

	m.logger.Infof("cancelling %d in-flight tasks", pending)

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.pool.StopWait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
