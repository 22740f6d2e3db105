package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type AppConfig struct {
	Logger   *logrus.Logger
	NatsConn *nats.Conn
	Props    *Properties

	RootWorkingDir string
	LogSettings    LogSettings
	Profile        ProfileInfo
	Https          HttpsInfo
	Smtp           SmtpInfo
	Transcoder     TranscoderInfo
	Recognizer     RecognizerInfo
	Languages      *LanguageSettings
	Response       ResponseSettings
	Ejector        EjectorInfo
	NatsInfo       NatsInfo
}

type LogSettings struct {
	LogLevel   *string
	LogFile    string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type ProfileInfo struct {
	// Name selects a registered profile, e.g. "generic_https".
	Name string
	// Folder holds request.j2, response.j2 and the optional templates.
	Folder string
}

type PrometheusConf struct {
	Enable      bool
	MetricsPath string
}

type HttpsInfo struct {
	Host                  string
	Port                  int
	CertFile              string
	KeyFile               string
	ConsumeRequestTimeout time.Duration
	BodyLimit             int
	ProxyHeader           string
	Debug                 bool
	PrometheusConf        PrometheusConf
}

type SmtpInfo struct {
	Host                  string
	Port                  int
	Domain                string
	CertFile              string
	KeyFile               string
	ImplicitTLS           bool
	ConsumeRequestTimeout time.Duration
	DefaultReturnCode     int
	MaxMessageBytes       int64
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
}

type TranscoderInfo struct {
	Binary         string
	Args           []string
	TerminateAfter time.Duration
	KillAfter      time.Duration
	Timeout        time.Duration
}

type RecognizerInfo struct {
	Provider        string
	SubscriptionKey string
	Region          string
	Endpoint        string
	MaxWorkers      int
	LIDMode         string
	TimeoutMargin   time.Duration
	StopTimeout     time.Duration
}

type ResponseSettings struct {
	TruncateLengthyTranscriptions bool
	MaxTranscriptionLength        int
	LogTranscriptionsEnabled      bool
}

type RetryConf struct {
	MaxAttempts int
	Multiplier  float64
	MinInterval time.Duration
	MaxInterval time.Duration
}

type EjectorInfo struct {
	HttpsTimeout time.Duration
	SmtpHost     string
	SmtpPort     int
	SmtpHelo     string
	SmtpTimeout  time.Duration
	Retry        RetryConf
}

type NatsInfo struct {
	Enabled       bool
	Url           string
	SubjectPrefix string
}

// New builds the typed application config out of properties, applying
// defaults and validating the relations between the timeouts.
func New(p *Properties) (*AppConfig, error) {
	appCnf := &AppConfig{Props: p}
	var err error

	if appCnf.RootWorkingDir, err = os.Getwd(); err != nil {
		return nil, err
	}

	if err = appCnf.readLogSettings(p); err != nil {
		return nil, err
	}
	if err = appCnf.readProfile(p); err != nil {
		return nil, err
	}
	if err = appCnf.readHttps(p); err != nil {
		return nil, err
	}
	if err = appCnf.readSmtp(p); err != nil {
		return nil, err
	}
	if err = appCnf.readTranscoder(p); err != nil {
		return nil, err
	}
	if err = appCnf.readRecognizer(p); err != nil {
		return nil, err
	}
	if appCnf.Languages, err = readLanguageSettings(p); err != nil {
		return nil, err
	}
	if err = appCnf.readResponse(p); err != nil {
		return nil, err
	}
	if err = appCnf.readEjector(p); err != nil {
		return nil, err
	}
	if err = appCnf.readNats(p); err != nil {
		return nil, err
	}

	return appCnf, nil
}

func (a *AppConfig) readLogSettings(p *Properties) error {
	level := p.String("log_settings.log_level", "info")
	a.LogSettings.LogLevel = &level
	a.LogSettings.LogFile = p.String("log_settings.log_file", "")

	var err error
	if a.LogSettings.MaxSize, err = p.Int("log_settings.max_size", 20); err != nil {
		return err
	}
	if a.LogSettings.MaxBackups, err = p.Int("log_settings.max_backups", 10); err != nil {
		return err
	}
	a.LogSettings.MaxAge, err = p.Int("log_settings.max_age", 30)
	return err
}

func (a *AppConfig) readProfile(p *Properties) error {
	a.Profile.Name = p.String("v2tic.profile", "generic_https")
	a.Profile.Folder = p.String("v2tic.profile_folder", filepath.Join("profiles", a.Profile.Name))
	if !filepath.IsAbs(a.Profile.Folder) {
		a.Profile.Folder = filepath.Join(a.RootWorkingDir, a.Profile.Folder)
	}

	if st, err := os.Stat(a.Profile.Folder); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: profile folder %s is not accessible", ErrConfiguration, a.Profile.Folder)
	}
	return nil
}

func (a *AppConfig) readHttps(p *Properties) error {
	h := &a.Https
	var err error
	h.Host = p.String("v2tic.https.host", "0.0.0.0")
	// v2tic_port is the historical short form
	if p.Has("v2tic.port") {
		if h.Port, err = p.Int("v2tic.port", 9443); err != nil {
			return err
		}
	} else if h.Port, err = p.Int("v2tic.https.port", 9443); err != nil {
		return err
	}
	h.CertFile = p.String("v2tic.https.cert_file", "")
	h.KeyFile = p.String("v2tic.https.key_file", "")
	if (h.CertFile == "") != (h.KeyFile == "") {
		return fmt.Errorf("%w: both v2tic.https.cert_file and v2tic.https.key_file are required for TLS", ErrConfiguration)
	}
	if h.ConsumeRequestTimeout, err = p.Duration("v2tic.https.consume_request_timeout", DefaultConsumeRequestTimeout); err != nil {
		return err
	}
	if h.BodyLimit, err = p.Int("v2tic.https.body_limit", DefaultMaxMessageBytes); err != nil {
		return err
	}
	h.ProxyHeader = p.String("v2tic.https.proxy_header", "")
	if h.Debug, err = p.Bool("v2tic.https.debug", false); err != nil {
		return err
	}
	if h.PrometheusConf.Enable, err = p.Bool("v2tic.https.prometheus.enable", false); err != nil {
		return err
	}
	h.PrometheusConf.MetricsPath = p.String("v2tic.https.prometheus.metrics_path", "/metrics")
	return nil
}

func (a *AppConfig) readSmtp(p *Properties) error {
	s := &a.Smtp
	var err error
	s.Host = p.String("v2tic.smtp.host", "0.0.0.0")
	if s.Port, err = p.Int("v2tic.smtp.port", 2525); err != nil {
		return err
	}
	s.Domain = p.String("v2tic.smtp.domain", "localhost")
	s.CertFile = p.String("v2tic.smtp.cert_file", "")
	s.KeyFile = p.String("v2tic.smtp.key_file", "")
	if s.ImplicitTLS, err = p.Bool("v2tic.smtp.implicit_tls", false); err != nil {
		return err
	}
	if s.ImplicitTLS && (s.CertFile == "" || s.KeyFile == "") {
		return fmt.Errorf("%w: implicit TLS requires v2tic.smtp.cert_file and v2tic.smtp.key_file", ErrConfiguration)
	}
	if s.ConsumeRequestTimeout, err = p.Duration("v2tic.smtp.consume_request_timeout", DefaultConsumeRequestTimeout); err != nil {
		return err
	}
	if s.DefaultReturnCode, err = p.Int("v2tic.smtp.default_return_code", DefaultSmtpReturnCode); err != nil {
		return err
	}
	maxBytes, err := p.Int("v2tic.smtp.max_message_bytes", DefaultMaxMessageBytes)
	if err != nil {
		return err
	}
	s.MaxMessageBytes = int64(maxBytes)
	if s.ReadTimeout, err = p.Duration("v2tic.smtp.read_timeout", 60*time.Second); err != nil {
		return err
	}
	s.WriteTimeout, err = p.Duration("v2tic.smtp.write_timeout", 60*time.Second)
	return err
}

func (a *AppConfig) readTranscoder(p *Properties) error {
	t := &a.Transcoder
	var err error
	t.Binary = p.String("v2tic.transcoder.binary", "ffmpeg")
	t.Args = p.StringSlice("v2tic.transcoder.args", nil)
	if t.TerminateAfter, err = p.Duration("v2tic.transcoder.terminate_after", DefaultTerminateAfter); err != nil {
		return err
	}
	if t.KillAfter, err = p.Duration("v2tic.transcoder.kill_after", DefaultKillAfter); err != nil {
		return err
	}
	if t.Timeout, err = p.Duration("v2tic.transcoder.timeout", DefaultTranscoderTimeout); err != nil {
		return err
	}
	if t.KillAfter <= t.TerminateAfter {
		return fmt.Errorf("%w: transcoder kill_after (%s) must be greater than terminate_after (%s)", ErrConfiguration, t.KillAfter, t.TerminateAfter)
	}
	if t.Timeout < t.KillAfter {
		return fmt.Errorf("%w: transcoder timeout (%s) must not be lower than kill_after (%s)", ErrConfiguration, t.Timeout, t.KillAfter)
	}
	return nil
}

func (a *AppConfig) readRecognizer(p *Properties) error {
	r := &a.Recognizer
	var err error
	r.Provider = p.String("v2tic.recognizer.provider", "azure")
	r.SubscriptionKey = p.String("v2tic.recognizer.subscription_key", "")
	r.Region = p.String("v2tic.recognizer.region", "")
	r.Endpoint = p.String("v2tic.recognizer.endpoint", "")
	if r.MaxWorkers, err = p.Int("v2tic.recognizer.max_workers", 8); err != nil {
		return err
	}
	if r.MaxWorkers < 1 {
		return fmt.Errorf("%w: v2tic.recognizer.max_workers must be at least 1", ErrConfiguration)
	}

	switch strings.ToLower(p.String("v2tic.recognizer.lid_mode", "continuous")) {
	case "continuous":
		r.LIDMode = LIDModeContinuous
	case "at_start", "atstart":
		r.LIDMode = LIDModeAtStart
	default:
		return fmt.Errorf("%w: unknown v2tic.recognizer.lid_mode", ErrConfiguration)
	}

	if r.TimeoutMargin, err = p.Duration("v2tic.recognizer.timeout_margin", DefaultRecognizerMargin); err != nil {
		return err
	}
	r.StopTimeout, err = p.Duration("v2tic.recognizer.stop_timeout", DefaultRecognizerStopTimeout)
	return err
}

func (a *AppConfig) readResponse(p *Properties) error {
	r := &a.Response
	var err error
	if r.TruncateLengthyTranscriptions, err = p.Bool("v2tic.response.truncate_lengthy_transcriptions", true); err != nil {
		return err
	}
	if r.MaxTranscriptionLength, err = p.Int("v2tic.response.max_transcription_length", DefaultMaxTranscriptionLen); err != nil {
		return err
	}
	r.LogTranscriptionsEnabled, err = p.Bool("v2tic.response.log_transcriptions_enabled", false)
	return err
}

func (a *AppConfig) readEjector(p *Properties) error {
	e := &a.Ejector
	var err error
	if e.HttpsTimeout, err = p.Duration("v2tic.ejector.https.timeout", DefaultEjectorTimeout); err != nil {
		return err
	}
	e.SmtpHost = p.String("v2tic.ejector.smtp.host", "localhost")
	if e.SmtpPort, err = p.Int("v2tic.ejector.smtp.port", 25); err != nil {
		return err
	}
	e.SmtpHelo = p.String("v2tic.ejector.smtp.helo", "localhost")
	if e.SmtpTimeout, err = p.Duration("v2tic.ejector.smtp.timeout", DefaultEjectorTimeout); err != nil {
		return err
	}

	r := &e.Retry
	if r.MaxAttempts, err = p.Int("v2tic.ejector.retry.max_attempts", 5); err != nil {
		return err
	}
	if r.Multiplier, err = p.Float("v2tic.ejector.retry.multiplier", 2); err != nil {
		return err
	}
	if r.MinInterval, err = p.Duration("v2tic.ejector.retry.min_interval", time.Second); err != nil {
		return err
	}
	if r.MaxInterval, err = p.Duration("v2tic.ejector.retry.max_interval", 30*time.Second); err != nil {
		return err
	}
	if r.MaxAttempts < 1 || r.Multiplier < 1 || r.MinInterval <= 0 || r.MaxInterval < r.MinInterval {
		return fmt.Errorf("%w: invalid v2tic.ejector.retry settings", ErrConfiguration)
	}
	return nil
}

func (a *AppConfig) readNats(p *Properties) error {
	var err error
	if a.NatsInfo.Enabled, err = p.Bool("v2tic.nats.enabled", false); err != nil {
		return err
	}
	a.NatsInfo.Url = p.String("v2tic.nats.url", nats.DefaultURL)
	a.NatsInfo.SubjectPrefix = p.String("v2tic.nats.subject_prefix", "v2tic.events")
	return nil
}

// ShutdownBound is the longest time an in-flight pipeline needs to unwind after cancellation.
func (a *AppConfig) ShutdownBound() time.Duration {
	return a.Transcoder.KillAfter + a.Recognizer.StopTimeout
}
