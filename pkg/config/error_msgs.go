package config

import "errors"

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrValidation     = errors.New("validation error")
	ErrConsumeTimeout = errors.New("consume request timeout")
	ErrTranscoder     = errors.New("transcoder error")
	ErrRecognizer     = errors.New("recognizer error")
	ErrEjector        = errors.New("ejector error")
)

const (
	MissingAudio          = "Missing audio"
	MissingHeader         = "Missing header"
	InvalidHeader         = "Invalid header"
	ConsumeTimeoutMsg     = "Timed out while consuming request"
	UnsupportedDelivery   = "unsupported delivery type"
	InvalidResponseAddr   = "invalid response_address, expected host:port"
	MissingReturnURL      = "missing return_url in rendered response"
	MissingMailRecipients = "missing mail_from or rcpt_to in rendered response"
)

// ValidationError is returned synchronously to the depositor.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
