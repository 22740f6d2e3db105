package models

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/logging"
	"github.com/mynaparrot/v2tic-server/pkg/profiles"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/scrid"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
	"github.com/sirupsen/logrus"
)

const invalidBase64 = "Invalid audio: body is not valid base64"

// InjestorModel turns a raw deposit into a validated request. Every error it
// returns is meant for the depositor.
type InjestorModel struct {
	app      *config.AppConfig
	engine   *templates.Engine
	profile  profiles.Profile
	resolver *LanguageResolver
	scrids   *scrid.Generator
	logger   *logrus.Entry
}

func NewInjestorModel(app *config.AppConfig, engine *templates.Engine, profile profiles.Profile, scrids *scrid.Generator, logger *logrus.Logger) *InjestorModel {
	return &InjestorModel{
		app:      app,
		engine:   engine,
		profile:  profile,
		resolver: NewLanguageResolver(app.Languages),
		scrids:   scrids,
		logger:   logger.WithField("model", config.ComponentInjestor),
	}
}

// Injest returns the request together with a context whose logger carries the SCRID.
func (m *InjestorModel) Injest(ctx context.Context, d *request.Deposit) (context.Context, *request.Request, error) {
	now := time.Now()
	id := m.scrids.Next(now)
	ctx = logging.WithScrid(ctx, m.logger, id)
	log := logging.FromContext(ctx, m.logger)

	headers := d.Headers.Clone()
	if headers == nil {
		headers = request.Headers{}
	}
	req := request.New(id, now, d.DeliveryType, headers)
	req.MailFrom = d.MailFrom
	req.RcptTo = append([]string(nil), d.RcptTo...)

	log.WithFields(logrus.Fields{
		"delivery_type": d.DeliveryType,
		"remote_addr":   d.RemoteAddr,
		"body_bytes":    len(d.Body),
	}).Infoln("deposit received")

	if err := m.checkMandatoryHeaders(headers); err != nil {
		return ctx, nil, err
	}

	md, err := m.renderMetadata(req)
	if err != nil {
		return ctx, nil, err
	}
	req.Metadata = *md
	m.resolver.Resolve(&req.Metadata)

	audio, err := m.decodeAudio(d)
	if err != nil {
		return ctx, nil, err
	}
	if len(audio) == 0 {
		return ctx, nil, config.NewValidationError(config.MissingAudio)
	}
	req.Audio = audio
	req.Metadata.AudioInfo = &request.AudioInfo{
		MimeType:      mimetype.Detect(audio).String(),
		ReceivedBytes: len(audio),
	}

	log.WithFields(logrus.Fields{
		"requested_languages": req.Metadata.RequestedLanguages,
		"lid_enabled":         req.Metadata.LIDEnabled,
		"mime_type":           req.Metadata.AudioInfo.MimeType,
	}).Infoln("request injested")
	return ctx, req, nil
}

func (m *InjestorModel) checkMandatoryHeaders(h request.Headers) error {
	for _, name := range m.profile.MandatoryHeaders() {
		if !h.Has(name) {
			return config.NewValidationError(fmt.Sprintf("%s: %s", config.MissingHeader, name))
		}
		if len(config.SplitList(h.Get(name))) == 0 {
			return config.NewValidationError(fmt.Sprintf("%s: %s", config.InvalidHeader, name))
		}
	}
	return nil
}

// requestTemplateContext is what request.j2 sees.
func (m *InjestorModel) requestTemplateContext(req *request.Request) map[string]any {
	ctx := map[string]any{
		"scrid":         req.Scrid,
		"deposit_time":  req.DepositTime.Format(time.RFC3339Nano),
		"delivery_type": req.DeliveryType,
		"headers":       req.Headers.Map(),
		"header":        req.Headers.Get,
		"mail_from":     req.MailFrom,
		"rcpt_to":       req.RcptTo,
		"language":      req.Headers.Get("X-Language"),
	}
	return m.profile.RequestContext(ctx, req.Headers)
}

func (m *InjestorModel) renderMetadata(req *request.Request) (*request.Metadata, error) {
	raw, err := m.engine.Render(config.RequestTemplate, m.requestTemplateContext(req))
	if err != nil {
		return nil, err
	}

	src := raw
	if v, ok := raw["metadata"].(map[string]any); ok {
		src = v
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	md := new(request.Metadata)
	if err = json.Unmarshal(b, md); err != nil {
		return nil, fmt.Errorf("%s did not render valid metadata: %w", config.RequestTemplate, err)
	}
	if md.PassThroughData == nil {
		if v, ok := raw["pass_through_data"].(map[string]any); ok {
			md.PassThroughData = v
		}
	}
	return md, nil
}

func (m *InjestorModel) decodeAudio(d *request.Deposit) ([]byte, error) {
	if d.BodyDecoded || !isBase64Encoded(d.Headers) {
		return d.Body, nil
	}
	audio, err := DecodeBase64(d.Body)
	if err != nil {
		return nil, config.NewValidationError(invalidBase64)
	}
	return audio, nil
}

func isBase64Encoded(h request.Headers) bool {
	for _, name := range []string{"Content-Encoding", "Content-Transfer-Encoding"} {
		if strings.EqualFold(strings.TrimSpace(h.Get(name)), "base64") {
			return true
		}
	}
	return false
}

// DecodeBase64 ignores ASCII whitespace anywhere in the input and accepts
// missing padding.
func DecodeBase64(in []byte) ([]byte, error) {
	clean := bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '\v', '\f':
			return -1
		}
		return r
	}, in)
	clean = bytes.TrimRight(clean, "=")

	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(clean)))
	n, err := base64.RawStdEncoding.Decode(out, clean)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}
