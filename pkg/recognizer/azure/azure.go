package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Microsoft/cognitive-services-speech-sdk-go/audio"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/common"
	"github.com/Microsoft/cognitive-services-speech-sdk-go/speech"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/recognizer"
	"github.com/sirupsen/logrus"
)

// 100 ms of 16 kHz mono s16le per push
const chunkSize = 3200

// Recognizer drives the Microsoft speech SDK in continuous recognition mode.
type Recognizer struct {
	cnf    config.RecognizerInfo
	logger *logrus.Entry
}

func New(cnf config.RecognizerInfo, logger *logrus.Logger) (*Recognizer, error) {
	if cnf.SubscriptionKey == "" || (cnf.Region == "" && cnf.Endpoint == "") {
		return nil, fmt.Errorf("%w: azure recognizer requires subscription_key and region or endpoint", config.ErrConfiguration)
	}
	return &Recognizer{
		cnf:    cnf,
		logger: logger.WithField("component", config.ComponentRecognizer),
	}, nil
}

func (r *Recognizer) newSpeechConfig() (*speech.SpeechConfig, error) {
	if r.cnf.Endpoint != "" {
		return speech.NewSpeechConfigFromEndpointWithSubscription(r.cnf.Endpoint, r.cnf.SubscriptionKey)
	}
	return speech.NewSpeechConfigFromSubscription(r.cnf.SubscriptionKey, r.cnf.Region)
}

func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	if len(opts.Languages) == 0 {
		return nil, fmt.Errorf("%w: no language requested", config.ErrRecognizer)
	}
	log := logging.FromContext(ctx, r.logger).WithFields(logrus.Fields{
		"languages":   opts.Languages,
		"lid_enabled": opts.LIDEnabled,
	})

	speechConfig, err := r.newSpeechConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrRecognizer, err)
	}
	defer speechConfig.Close()

	if err = speechConfig.SetPropertyByString("SpeechServiceResponse_RequestDetailedResultTrueFalse", "true"); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrRecognizer, err)
	}
	for k, v := range opts.Properties {
		if err = speechConfig.SetPropertyByString(k, v); err != nil {
			return nil, fmt.Errorf("%w: property %s: %v", config.ErrRecognizer, k, err)
		}
	}

	audioFormat, err := audio.GetWaveFormatPCM(config.PCMSampleRate, 16, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create audio format: %v", config.ErrRecognizer, err)
	}
	defer audioFormat.Close()

	inputStream, err := audio.CreatePushAudioInputStreamFromFormat(audioFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create push stream: %v", config.ErrRecognizer, err)
	}
	defer inputStream.Close()

	audioConfig, err := audio.NewAudioConfigFromStreamInput(inputStream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrRecognizer, err)
	}
	defer audioConfig.Close()

	rec, err := r.newSpeechRecognizer(speechConfig, audioConfig, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrRecognizer, err)
	}
	defer rec.Close()

	session := recognizer.NewSession()
	defer session.Close()

	rec.SessionStarted(func(e speech.SessionEventArgs) {
		defer e.Close()
		log.Debugln("recognition session started")
		session.OnStarted()
	})
	rec.SessionStopped(func(e speech.SessionEventArgs) {
		defer e.Close()
		log.Debugln("recognition session stopped")
		session.OnStopped()
	})
	rec.Recognizing(func(e speech.SpeechRecognitionEventArgs) {
		defer e.Close()
		session.OnRecognizing()
	})
	rec.Recognized(func(e speech.SpeechRecognitionEventArgs) {
		defer e.Close()
		if e.Result.Reason != common.RecognizedSpeech {
			return
		}
		detailed := e.Result.Properties.GetProperty(common.SpeechServiceResponseJSONResult, "")
		u, err := recognizer.ParseDetailed(detailed, e.Result.Text)
		if err != nil {
			log.WithError(err).Warnln("detailed result unavailable, using plain text")
		}
		if opts.LIDEnabled && u.Language == "" {
			u.Language = e.Result.Properties.GetProperty(common.SpeechServiceConnectionAutoDetectSourceLanguageResult, "")
		}
		session.OnRecognized(u)
	})
	rec.Canceled(func(e speech.SpeechRecognitionCanceledEventArgs) {
		defer e.Close()
		if e.Reason == common.Error {
			log.Errorf("recognition canceled: %v %s", e.ErrorCode, e.ErrorDetails)
			session.OnCanceled(fmt.Errorf("%v: %s", e.ErrorCode, e.ErrorDetails))
			return
		}
		session.OnCanceled(nil)
	})

	if err = <-rec.StartContinuousRecognitionAsync(); err != nil {
		return nil, fmt.Errorf("%w: could not start recognition: %v", config.ErrRecognizer, err)
	}

	start := time.Now()
	go r.feed(ctx, inputStream, pcm, log)

	res, err := session.Wait(ctx)
	r.stop(rec, log)

	if err != nil {
		return nil, err
	}
	log.WithField("took", time.Since(start).Round(time.Millisecond)).Infoln("recognition finished")
	return res, nil
}

func (r *Recognizer) newSpeechRecognizer(speechConfig *speech.SpeechConfig, audioConfig *audio.AudioConfig, opts recognizer.Options) (*speech.SpeechRecognizer, error) {
	if !opts.LIDEnabled || len(opts.Languages) < 2 {
		if err := speechConfig.SetSpeechRecognitionLanguage(opts.Languages[0]); err != nil {
			return nil, err
		}
		return speech.NewSpeechRecognizerFromConfig(speechConfig, audioConfig)
	}

	mode := opts.LIDMode
	if mode == "" {
		mode = r.cnf.LIDMode
	}
	if err := speechConfig.SetPropertyByString("SpeechServiceConnection_LanguageIdMode", mode); err != nil {
		return nil, err
	}

	autoDetect, err := speech.NewAutoDetectSourceLanguageConfigFromLanguages(opts.Languages)
	if err != nil {
		return nil, err
	}
	defer autoDetect.Close()

	return speech.NewSpeechRecognizerFomAutoDetectSourceLangConfig(speechConfig, autoDetect, audioConfig)
}

// feed pushes the whole buffer and closes the stream so the service
// reports end of stream once it has consumed the audio.
func (r *Recognizer) feed(ctx context.Context, stream *audio.PushAudioInputStream, pcm []byte, log *logrus.Entry) {
	defer stream.CloseStream()
	for off := 0; off < len(pcm); off += chunkSize {
		if ctx.Err() != nil {
			return
		}
		end := min(off+chunkSize, len(pcm))
		if err := stream.Write(pcm[off:end]); err != nil {
			log.WithError(err).Errorln("writing audio to push stream")
			return
		}
	}
}

func (r *Recognizer) stop(rec *speech.SpeechRecognizer, log *logrus.Entry) {
	select {
	case err := <-rec.StopContinuousRecognitionAsync():
		if err != nil {
			log.WithError(err).Warnln("stopping recognition")
		}
	case <-time.After(r.cnf.StopTimeout):
		log.Warnf("recognizer did not stop within %s", r.cnf.StopTimeout)
	}
}
