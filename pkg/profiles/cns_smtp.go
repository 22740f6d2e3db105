package profiles

import (
	"strings"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
)

const (
	CnsSmtpName = "cns_smtp"

	cnsLanguageHeader    = "X-CNS-Language"
	cnsVoiceWriterHeader = "X-CNS-Voice-Writer"

	ErrCodeSuccess       = "Err-Succ"
	ErrCodeUnconvertible = "Err-Unconv"
	ErrCodeSystem        = "Err-Sys"
	ErrCodeHack          = "Err-Hack"

	hackText = "An error has occurred"
)

// CnsSmtp is the carrier profile. The carrier sends three letter language
// codes and expects an X-Error-Code on every delivered message.
type CnsSmtp struct {
	Base
	languages map[string]string
}

func NewCnsSmtp() *CnsSmtp {
	return &CnsSmtp{
		languages: map[string]string{
			"eng": "en-US",
			"spa": "es-US",
			"fra": "fr-CA",
			"por": "pt-BR",
			"deu": "de-DE",
			"ita": "it-IT",
			"cmn": "zh-CN",
		},
	}
}

func (p *CnsSmtp) Name() string {
	return CnsSmtpName
}

func (p *CnsSmtp) MandatoryHeaders() []string {
	return []string{"X-Reference", "To"}
}

// MapLanguage converts a comma list of carrier codes. Unknown entries pass
// through so the resolver can decide on them.
func (p *CnsSmtp) MapLanguage(codes string) string {
	parts := config.SplitList(codes)
	for i, c := range parts {
		if tag, ok := p.languages[strings.ToLower(c)]; ok {
			parts[i] = tag
		}
	}
	return strings.Join(parts, ",")
}

func (p *CnsSmtp) RequestContext(ctx map[string]any, headers request.Headers) map[string]any {
	if v := headers.Get(cnsLanguageHeader); v != "" {
		ctx["language"] = p.MapLanguage(v)
	}
	ctx["voice_writer"] = isVoiceWriter(headers)
	return ctx
}

func (p *CnsSmtp) ResponseContext(req *request.Request, ctx map[string]any) map[string]any {
	ctx["voice_writer"] = isVoiceWriter(req.Headers)
	ctx["error_code"] = p.errorCode(req)
	return ctx
}

func (p *CnsSmtp) UpdateResponseHook(req *request.Request, doc *templates.Document) {
	code := p.errorCode(req)
	doc.SetHeader("X-Error-Code", code)
	if code == ErrCodeHack {
		doc.SetHeader("X-Trans-Text", hackText)
	}

	rr := req.RecognitionResult
	if rr != nil && rr.LIDEnabled && len(rr.DetectedLanguages) > 0 {
		doc.SetHeader("X-Detected-Languages", strings.Join(rr.DetectedLanguages, ","))
	}
}

// SmtpReturnCode accepts every deposit that passed validation; failures are
// reported to the carrier in the delivered message.
func (p *CnsSmtp) SmtpReturnCode(_ *request.Request, rendered *templates.ReturnCode, _ int) *templates.ReturnCode {
	if rendered != nil {
		return rendered
	}
	return &templates.ReturnCode{Code: 250, Message: "OK"}
}

func (p *CnsSmtp) errorCode(req *request.Request) string {
	if !isVoiceWriter(req.Headers) {
		return ErrCodeHack
	}
	if req.Status() == request.StatusFailed || req.RecognitionResult == nil {
		return ErrCodeSystem
	}
	if req.RecognitionResult.ConversionStatus == config.ConversionTranscribed {
		return ErrCodeSuccess
	}
	return ErrCodeUnconvertible
}

func isVoiceWriter(h request.Headers) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get(cnsVoiceWriterHeader)), "true")
}
