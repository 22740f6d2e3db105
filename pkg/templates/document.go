package templates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mynaparrot/v2tic-server/pkg/config"
)

// Document is a rendered response or after-deposit acknowledgement.
// HTTPS documents use ReturnURL/Body, SMTP documents MailFrom/RcptTo.
type Document struct {
	Headers         map[string]string
	Body            string
	ReturnURL       string
	Method          string
	MailFrom        string
	RcptTo          []string
	VerifySSL       bool
	StartTLS        bool
	ResponseAddress string
}

// HeaderNames returns the header names in a stable order.
func (d *Document) HeaderNames() []string {
	names := make([]string, 0, len(d.Headers))
	for k := range d.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetHeader replaces a header regardless of the case it was rendered with.
func (d *Document) SetHeader(name, value string) {
	for k := range d.Headers {
		if strings.EqualFold(k, name) && k != name {
			delete(d.Headers, k)
		}
	}
	d.Headers[name] = value
}

func (d *Document) Header(name string) string {
	for k, v := range d.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ReturnCode is the SMTP reply handed back to the depositing MTA.
type ReturnCode struct {
	Code    int
	Message string
}

// RenderDocument renders name and resolves import directives in headers and body.
func (e *Engine) RenderDocument(name string, ctx map[string]any) (*Document, error) {
	raw, err := e.Render(name, ctx)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Headers:   make(map[string]string),
		VerifySSL: true,
	}

	rawHeaders, ok := raw["headers"]
	if !ok {
		return nil, fmt.Errorf("template %s: document has no headers", name)
	}
	hm, ok := rawHeaders.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template %s: headers must be an object", name)
	}
	for k, v := range hm {
		value, err := e.resolvePart(v, ctx, DefaultHeaderEncoding, true)
		if err != nil {
			return nil, fmt.Errorf("template %s: header %s: %w", name, k, err)
		}
		doc.Headers[k] = value
	}

	if b, ok := raw["body"]; ok && b != nil {
		if doc.Body, err = e.resolvePart(b, ctx, DefaultBodyEncoding, false); err != nil {
			return nil, fmt.Errorf("template %s: body: %w", name, err)
		}
	}

	doc.ReturnURL = stringField(raw, "return_url")
	doc.Method = strings.ToUpper(stringField(raw, "method"))
	doc.MailFrom = stringField(raw, "mail_from")
	doc.ResponseAddress = stringField(raw, "response_address")
	doc.RcptTo = listField(raw, "rcpt_to")

	if v, ok := raw["verify_ssl"]; ok && v != nil {
		if doc.VerifySSL, err = config.ParseBool(v); err != nil {
			return nil, fmt.Errorf("template %s: verify_ssl: %w", name, err)
		}
	}
	if v, ok := raw["start_tls"]; ok && v != nil {
		if doc.StartTLS, err = config.ParseBool(v); err != nil {
			return nil, fmt.Errorf("template %s: start_tls: %w", name, err)
		}
	}

	return doc, nil
}

// RenderReturnCode renders smtp_return_code.j2: {"code": 250, "message": "..."}.
func (e *Engine) RenderReturnCode(ctx map[string]any) (*ReturnCode, error) {
	raw, err := e.Render(config.SmtpReturnCodeTemplate, ctx)
	if err != nil {
		return nil, err
	}

	v, ok := raw["code"]
	if !ok {
		return nil, fmt.Errorf("template %s: missing code", config.SmtpReturnCodeTemplate)
	}
	code, err := config.ToInt(v)
	if err != nil || code < 200 || code > 599 {
		return nil, fmt.Errorf("template %s: invalid code %v", config.SmtpReturnCodeTemplate, v)
	}
	return &ReturnCode{Code: code, Message: stringField(raw, "message")}, nil
}

// resolvePart turns a plain value or an {"import": ..., "encoding": ...} object into text.
func (e *Engine) resolvePart(v any, ctx map[string]any, defEncoding string, header bool) (string, error) {
	switch val := v.(type) {
	case map[string]any:
		imp, _ := val["import"].(string)
		if imp == "" {
			return "", fmt.Errorf("object value without import")
		}
		enc, _ := val["encoding"].(string)
		if enc == "" {
			enc = defEncoding
		}
		text, err := e.RenderString(imp, ctx)
		if err != nil {
			return "", err
		}
		if header {
			return EncodeHeader(strings.TrimSpace(text), enc)
		}
		return EncodeBody(text, enc)
	case nil:
		return "", nil
	case string:
		return val, nil
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), nil
		}
		return fmt.Sprint(val), nil
	default:
		return fmt.Sprint(val), nil
	}
}

func stringField(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func listField(raw map[string]any, key string) []string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return config.SplitList(fmt.Sprint(val))
	}
}
