package models

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/metrics"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

type ResponseCreatorModel struct {
	cnf     config.ResponseSettings
	engine  *templates.Engine
	profile profiles.Profile
	logger  *logrus.Entry
}

func NewResponseCreatorModel(app *config.AppConfig, engine *templates.Engine, profile profiles.Profile, logger *logrus.Logger) *ResponseCreatorModel {
	return &ResponseCreatorModel{
		cnf:     app.Response,
		engine:  engine,
		profile: profile,
		logger:  logger.WithField("model", config.ComponentResponse),
	}
}

// Create settles the request status and renders response.j2. A request with
// notes keeps its recognition result untouched.
func (m *ResponseCreatorModel) Create(ctx context.Context, req *request.Request, now time.Time) (*templates.Document, error) {
	log := logging.FromContext(ctx, m.logger)

	if !req.HasNotes() && req.RecognitionResult != nil {
		m.complete(req, now)
		m.logResult(log, req.RecognitionResult)
	}

	status := req.Finalize()
	conversion := ""
	if req.RecognitionResult != nil {
		conversion = req.RecognitionResult.ConversionStatus
	}
	metrics.Conversions.WithLabelValues(string(status), conversion).Inc()

	tplCtx := m.profile.ResponseContext(req, req.Context())
	doc, err := m.engine.RenderDocument(config.ResponseTemplate, tplCtx)
	if err != nil {
		return nil, err
	}
	m.profile.UpdateResponseHook(req, doc)

	log.WithField("status", status).Infoln("response created")
	return doc, nil
}

func (m *ResponseCreatorModel) complete(req *request.Request, now time.Time) {
	rr := req.RecognitionResult
	if req.Metadata.AudioInfo != nil {
		rr.AudioTruncated = req.Metadata.AudioInfo.AudioTruncated
	}

	rr.ConversionStatus = ConversionStatus(rr.Text, rr.GlobalConfidenceScore, req.Metadata.MinConfidencePercentage)
	if rr.ConversionStatus == config.ConversionUnconvertible {
		rr.Text, rr.DisplayText, rr.ITNText = "", "", ""
	} else if m.cnf.TruncateLengthyTranscriptions {
		n := m.cnf.MaxTranscriptionLength
		rr.Text = TruncateText(rr.Text, n)
		rr.DisplayText = TruncateText(rr.DisplayText, n)
		rr.ITNText = TruncateText(rr.ITNText, n)
	}

	rr.RTF = RealTimeFactor(now.Sub(req.DepositTime), rr.FinalAudioLengthSecs)
}

func (m *ResponseCreatorModel) logResult(log *logrus.Entry, rr *request.RecognitionResult) {
	text, display, itn := config.RedactedText, config.RedactedText, config.RedactedText
	if m.cnf.LogTranscriptionsEnabled {
		text, display, itn = rr.Text, rr.DisplayText, rr.ITNText
	}
	fields := logrus.Fields{
		"text":                    text,
		"display_text":            display,
		"itn_text":                itn,
		"conversion_status":       rr.ConversionStatus,
		"final_audio_length_secs": rr.FinalAudioLengthSecs,
		"audio_truncated":         rr.AudioTruncated,
		"lid_enabled":             rr.LIDEnabled,
		"detected_languages":      rr.DetectedLanguages,
		"rtf":                     rr.RTF,
	}
	if rr.GlobalConfidenceScore != nil {
		fields["global_confidence_score"] = *rr.GlobalConfidenceScore
	}
	log.WithFields(fields).Infoln("recognition result")
}

// ConversionStatus is TRANSCRIBED only for non-blank text whose confidence
// reaches the threshold. A missing score never converts.
func ConversionStatus(text string, score *int, minConfidence int) string {
	if strings.TrimSpace(text) == "" || score == nil || *score < minConfidence {
		return config.ConversionUnconvertible
	}
	return config.ConversionTranscribed
}

// TruncateText cuts s to at most n runes.
func TruncateText(s string, n int) string {
	if n < 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// RealTimeFactor is elapsed / audio length rounded to two decimals; zero
// when there is no audio.
func RealTimeFactor(elapsed time.Duration, audioSecs float64) float64 {
	if audioSecs <= 0 {
		return 0
	}
	return math.Round(elapsed.Seconds()/audioSecs*100) / 100
}
