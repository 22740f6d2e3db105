package recognizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSession_SingleLanguage(t *testing.T) {
	s := NewSession()
	s.OnStarted()
	s.OnRecognizing()
	assert.Equal(t, StateRecognizing, s.State())
	s.OnRecognized(Utterance{Lexical: "the weather is great", Display: "The weather is great.", ITN: "the weather is great", Confidence: 0.91})
	s.OnRecognized(Utterance{Lexical: "", Display: ""})
	s.OnRecognized(Utterance{Lexical: "call me at five", Display: "Call me at 5.", ITN: "call me at 5", Confidence: 0.874})
	s.OnStopped()

	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "the weather is great call me at five", res.Text)
	assert.Equal(t, "The weather is great. Call me at 5.", res.DisplayText)
	assert.Equal(t, "the weather is great call me at 5", res.ITNText)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 87, *res.Confidence)
	assert.Empty(t, res.DetectedLanguages)
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_DetectedLanguagesInOrder(t *testing.T) {
	s := NewSession()
	s.OnStarted()
	for _, lang := range []string{"de-DE", "en-US", "de-DE"} {
		s.OnRecognized(Utterance{Lexical: "x", Display: "x", Confidence: 1, Language: lang})
	}
	s.OnCanceled(nil)

	res, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"de-DE", "en-US"}, res.DetectedLanguages)
}

func TestSession_CanceledDiscardsPartials(t *testing.T) {
	s := NewSession()
	s.OnStarted()
	s.OnRecognized(Utterance{Lexical: "partial", Display: "partial", Confidence: 0.9})
	s.OnCanceled(errors.New("AuthenticationFailure: invalid key"))
	// events after a terminal state are ignored
	s.OnRecognized(Utterance{Lexical: "late", Display: "late", Confidence: 0.9})
	s.OnStopped()

	res, err := s.Wait(context.Background())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrRecognizer))
	assert.Contains(t, err.Error(), "invalid key")
	assert.Equal(t, StateCanceled, s.State())
}

func TestSession_WaitTimeout(t *testing.T) {
	s := NewSession()
	s.OnStarted()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx)
	assert.True(t, errors.Is(err, config.ErrRecognizer))

	s.Close()
	_, err = s.Result()
	assert.Error(t, err)
	assert.Equal(t, StateClosed, s.State())
}

func TestSession_NoSpeech(t *testing.T) {
	s := NewSession()
	s.OnStarted()
	s.OnStopped()
	res, err := s.Result()
	require.NoError(t, err)
	assert.Nil(t, res.Confidence)
	assert.Equal(t, "", res.Text)
}

func TestSession_ConfidenceIsMinimum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		confs := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 10).Draw(t, "confidences")
		s := NewSession()
		s.OnStarted()
		lowest := 1.0
		for _, c := range confs {
			s.OnRecognized(Utterance{Lexical: "w", Display: "w", Confidence: c})
			lowest = min(lowest, c)
		}
		s.OnStopped()

		res, err := s.Result()
		require.NoError(t, err)
		require.NotNil(t, res.Confidence)
		assert.GreaterOrEqual(t, *res.Confidence, 0)
		assert.LessOrEqual(t, *res.Confidence, 100)
		assert.InDelta(t, lowest*100, float64(*res.Confidence), 0.51)
	})
}

func TestParseDetailed(t *testing.T) {
	payload := `{"RecognitionStatus":"Success","DisplayText":"Hallo Welt.","NBest":[{"Confidence":0.8123,"Lexical":"hallo welt","ITN":"hallo welt","MaskedITN":"hallo welt","Display":"Hallo Welt."}],"PrimaryLanguage":{"Language":"de-DE","Confidence":"High"}}`
	u, err := ParseDetailed(payload, "ignored")
	require.NoError(t, err)
	assert.Equal(t, Utterance{Lexical: "hallo welt", Display: "Hallo Welt.", ITN: "hallo welt", Confidence: 0.8123, Language: "de-DE"}, u)

	u, err = ParseDetailed("", "plain")
	assert.Error(t, err)
	assert.Equal(t, "plain", u.Display)
}

func TestDeadline(t *testing.T) {
	assert.Equal(t, 150*time.Second, Deadline(120, 30*time.Second))
}
