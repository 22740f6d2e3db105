package models

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/ejector"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/recognizer"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/scrid"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/mynaparrot/v2tic-server/pkg/transcoder"
	"github.com/stretchr/testify/require"
)

func testLanguages() *config.LanguageSettings {
	return config.NewLanguageSettings(
		[]string{"en-US", "de-DE", "fr-FR", "es-ES", "fr-CA", "zh-CN"},
		map[string]config.LanguageThreshold{
			"en-US": {MinConfidencePercentage: 60, MaxAudioLengthSecs: 90},
			"de-DE": {MinConfidencePercentage: 70, MaxAudioLengthSecs: 60},
		},
		[]string{"en-US", "de-DE"},
		config.LanguageThreshold{MinConfidencePercentage: 0, MaxAudioLengthSecs: 120},
	)
}

func testApp() *config.AppConfig {
	return &config.AppConfig{
		Logger:    logging.NewNopLogger(),
		Languages: testLanguages(),
		Smtp:      config.SmtpInfo{DefaultReturnCode: config.DefaultSmtpReturnCode},
		Recognizer: config.RecognizerInfo{
			MaxWorkers:    2,
			LIDMode:       config.LIDModeContinuous,
			TimeoutMargin: 5 * time.Second,
			StopTimeout:   time.Second,
		},
		Response: config.ResponseSettings{
			TruncateLengthyTranscriptions: true,
			MaxTranscriptionLength:        config.DefaultMaxTranscriptionLen,
		},
	}
}

// shipped profile templates
func testEngine(t *testing.T, profile string) *templates.Engine {
	t.Helper()
	e, err := templates.New(filepath.Join("..", "..", "profiles", profile), logging.NewNopLogger())
	require.NoError(t, err)
	return e
}

func testProfile(t *testing.T, name string) profiles.Profile {
	t.Helper()
	p, err := profiles.Lookup(name)
	require.NoError(t, err)
	return p
}

func newTestInjestor(t *testing.T, profile string) *InjestorModel {
	t.Helper()
	return NewInjestorModel(testApp(), testEngine(t, profile), testProfile(t, profile), scrid.NewGenerator("test", 1), logging.NewNopLogger())
}

func httpsDeposit(body []byte) *request.Deposit {
	return &request.Deposit{
		DeliveryType: config.DeliveryHTTPS,
		Headers: request.Headers{
			"X-Reference":      "ref-1",
			"X-Return-Url":     "https://sink.example.com/v2t",
			"X-Language":       "en-US",
			"Content-Encoding": "base64",
		},
		Body:       []byte(base64.StdEncoding.EncodeToString(body)),
		RemoteAddr: "127.0.0.1:40000",
	}
}

type transcodeFunc func(ctx context.Context, audio []byte, maxSecs int) (*transcoder.Result, error)

func (f transcodeFunc) Transcode(ctx context.Context, audio []byte, maxSecs int) (*transcoder.Result, error) {
	return f(ctx, audio, maxSecs)
}

// passThrough pretends the input already is PCM.
func passThrough() transcodeFunc {
	return func(_ context.Context, audio []byte, _ int) (*transcoder.Result, error) {
		return &transcoder.Result{PCM: audio, DurationS: float64(len(audio)) / config.PCMBytesPerSecond}, nil
	}
}

func fixedRecognizer(text string, confidence int) recognizer.Func {
	return func(_ context.Context, _ []byte, opts recognizer.Options) (*recognizer.Result, error) {
		res := &recognizer.Result{Text: text, DisplayText: text + ".", ITNText: text, Confidence: &confidence}
		if opts.LIDEnabled {
			res.DetectedLanguages = opts.Languages[:1]
		}
		return res, nil
	}
}

type ejected struct {
	deliveryType string
	doc          *templates.Document
}

type fakeEjector struct {
	err  error
	docs chan ejected
}

func newFakeEjector(err error) *fakeEjector {
	return &fakeEjector{err: err, docs: make(chan ejected, 16)}
}

func (f *fakeEjector) Eject(_ context.Context, deliveryType string, doc *templates.Document) (ejector.Stats, error) {
	f.docs <- ejected{deliveryType: deliveryType, doc: doc}
	return ejector.Stats{AttemptNumber: 1}, f.err
}

func (f *fakeEjector) next(t *testing.T) ejected {
	t.Helper()
	select {
	case e := <-f.docs:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("nothing ejected")
		return ejected{}
	}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEvents) PublishEvent(event string, _ *request.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEvents) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

var errSinkDown = errors.New("sink down")
