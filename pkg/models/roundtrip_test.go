package models

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var allProfiles = []string{profiles.GenericHttpsName, profiles.GenericSmtpName, profiles.CnsSmtpName}

func TestResponseCreator_RenderingIsDeterministic(t *testing.T) {
	creators := make(map[string]*ResponseCreatorModel)
	for _, name := range allProfiles {
		creators[name] = newTestResponseCreator(t, name, testApp())
	}
	now := time.Date(2026, 10, 19, 10, 15, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		profile := rapid.SampledFrom(allProfiles).Draw(t, "profile")
		ref := rapid.String().Draw(t, "ref")
		text := rapid.String().Draw(t, "text")
		score := rapid.IntRange(0, 100).Draw(t, "score")
		failed := rapid.Bool().Draw(t, "failed")

		deliveryType := config.DeliverySMTP
		if profile == profiles.GenericHttpsName {
			deliveryType = config.DeliveryHTTPS
		}
		newReq := func() *request.Request {
			req := request.New("20261019101500-test-1-1", now.Add(-2*time.Second), deliveryType, request.Headers{
				"X-Reference":        ref,
				"X-CNS-Voice-Writer": "true",
			})
			req.MailFrom = "vm@carrier.example.com"
			req.RcptTo = []string{"v2t@example.com"}
			req.Metadata = request.Metadata{
				ExternalReference:       ref,
				RequestedLanguages:      []string{"en-US"},
				MinConfidencePercentage: 60,
				MaxAudioLengthSecs:      90,
				AudioInfo:               &request.AudioInfo{DurationS: 2},
				PassThroughData:         map[string]any{"return_url": "https://sink.example.com/v2t", "subject": ref},
			}
			req.RecognitionResult = &request.RecognitionResult{
				Text:                  text,
				DisplayText:           text,
				ITNText:               text,
				GlobalConfidenceScore: &score,
				FinalAudioLengthSecs:  2,
			}
			if failed {
				req.AddNote(config.ComponentRecognizer, "canceled")
			}
			return req
		}

		first, err := creators[profile].Create(context.Background(), newReq(), now)
		require.NoError(t, err)
		second, err := creators[profile].Create(context.Background(), newReq(), now)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestInjestor_SameHeadersGiveSameMetadata(t *testing.T) {
	injestors := make(map[string]*InjestorModel)
	for _, name := range allProfiles {
		injestors[name] = newTestInjestor(t, name)
	}

	rapid.Check(t, func(t *rapid.T) {
		profile := rapid.SampledFrom(allProfiles).Draw(t, "profile")
		ref := rapid.StringMatching(`[A-Za-z0-9 "\\{}%-]{0,20}[A-Za-z0-9]`).Draw(t, "ref")
		language := rapid.SampledFrom([]string{"", "en-US", "de-DE, en-US", "fr-FR,xx-XX", "xx-XX"}).Draw(t, "language")
		audio := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "audio")

		d := &request.Deposit{
			DeliveryType: config.DeliveryHTTPS,
			Headers: request.Headers{
				"X-Reference":        ref,
				"X-Return-URL":       "https://sink.example.com/v2t?ref=" + ref,
				"X-Language":         language,
				"To":                 "v2t@example.com",
				"Subject":            ref,
				"X-CNS-Voice-Writer": "true",
				"X-CNS-Language":     "eng",
				"Content-Encoding":   "base64",
			},
			Body: []byte(base64.StdEncoding.EncodeToString(audio)),
		}
		if profile != profiles.GenericHttpsName {
			d.DeliveryType = config.DeliverySMTP
			d.MailFrom = "vm@carrier.example.com"
			d.RcptTo = []string{"v2t@example.com"}
		}

		_, first, err := injestors[profile].Injest(context.Background(), d)
		require.NoError(t, err)
		_, second, err := injestors[profile].Injest(context.Background(), d)
		require.NoError(t, err)

		assert.NotEqual(t, first.Scrid, second.Scrid)
		assert.Equal(t, ref, first.Metadata.ExternalReference)
		first.Metadata.AudioInfo, second.Metadata.AudioInfo = nil, nil
		assert.Equal(t, first.Metadata, second.Metadata)
	})
}
