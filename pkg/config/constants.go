package config

import "time"

const (
	DeliveryHTTPS = "HTTPS"
	DeliverySMTP  = "SMTP"

	ComponentInjestor    = "injestor"
	ComponentTranscoder  = "transcoder"
	ComponentRecognizer  = "recognizer"
	ComponentResponse    = "response_creator"
	ComponentEjector     = "ejector"
	ComponentAfterDepAck = "after_deposit_ack"

	ConversionTranscribed   = "TRANSCRIBED"
	ConversionUnconvertible = "UNCONVERTIBLE"

	LIDModeAtStart    = "AtStart"
	LIDModeContinuous = "Continuous"

	RequestTemplate         = "request.j2"
	ResponseTemplate        = "response.j2"
	AfterDepositAckTemplate = "after_deposit_ack.j2"
	SmtpReturnCodeTemplate  = "smtp_return_code.j2"

	// 16 kHz, 16 bit, mono
	PCMBytesPerSecond = 32000
	PCMSampleRate     = 16000

	RedactedText = "<redacted>"

	DefaultConsumeRequestTimeout = 10 * time.Second
	DefaultTerminateAfter        = 60 * time.Second
	DefaultKillAfter             = 65 * time.Second
	DefaultTranscoderTimeout     = 70 * time.Second
	DefaultRecognizerMargin      = 30 * time.Second
	DefaultRecognizerStopTimeout = 5 * time.Second
	DefaultEjectorTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 90 * time.Second
	DefaultMaxTranscriptionLen   = 4096
	DefaultSmtpReturnCode        = 250
	DefaultMaxMessageBytes       = 25 * 1024 * 1024
)
