package recognizer

import (
	"context"
	"time"
)

// Options selects the recognition path. More than one language together
// with LIDEnabled runs language identification over the candidates.
type Options struct {
	Languages          []string
	LIDEnabled         bool
	LIDMode            string
	MaxAudioLengthSecs int
	// Properties are passed to the speech service verbatim (metadata.acs_client).
	Properties map[string]string
}

type Result struct {
	Text              string
	DisplayText       string
	ITNText           string
	Confidence        *int
	DetectedLanguages []string
}

// Recognizer converts 16 kHz mono s16le PCM into text.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, opts Options) (*Result, error)
}

// Func adapts a plain function to Recognizer.
type Func func(ctx context.Context, pcm []byte, opts Options) (*Result, error)

func (f Func) Recognize(ctx context.Context, pcm []byte, opts Options) (*Result, error) {
	return f(ctx, pcm, opts)
}

// Deadline is the wall clock a recognition may take.
func Deadline(maxAudioLengthSecs int, margin time.Duration) time.Duration {
	return time.Duration(maxAudioLengthSecs)*time.Second + margin
}
