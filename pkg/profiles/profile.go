package profiles

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/mynaparrot/v2tic-server/pkg/request"
	"github.com/mynaparrot/v2tic-server/pkg/templates"
)

// Profile is the per-tenant policy applied around every template render.
// Implementations are shared by all requests and must not keep request state.
type Profile interface {
	Name() string
	MandatoryHeaders() []string

	// RequestContext adjusts the context handed to request.j2.
	RequestContext(ctx map[string]any, headers request.Headers) map[string]any
	// ResponseContext is the last chance to mutate the context of response.j2.
	ResponseContext(req *request.Request, ctx map[string]any) map[string]any
	UpdateResponseHook(req *request.Request, doc *templates.Document)

	AfterDepositAckContext(req *request.Request, ctx map[string]any) map[string]any
	UpdateAfterDepositAckHook(req *request.Request, doc *templates.Document)

	SmtpReturnCodeContext(req *request.Request, ctx map[string]any) map[string]any
	// SmtpReturnCode receives the rendered code, or nil when the profile has
	// no smtp_return_code.j2, and returns the reply for the MTA.
	SmtpReturnCode(req *request.Request, rendered *templates.ReturnCode, defaultCode int) *templates.ReturnCode
}

// Base implements every hook as a no-op so profiles only override what they change.
type Base struct{}

func (Base) RequestContext(ctx map[string]any, _ request.Headers) map[string]any {
	return ctx
}

func (Base) ResponseContext(_ *request.Request, ctx map[string]any) map[string]any {
	return ctx
}

func (Base) UpdateResponseHook(_ *request.Request, _ *templates.Document) {}

func (Base) AfterDepositAckContext(_ *request.Request, ctx map[string]any) map[string]any {
	return ctx
}

func (Base) UpdateAfterDepositAckHook(_ *request.Request, _ *templates.Document) {}

func (Base) SmtpReturnCodeContext(_ *request.Request, ctx map[string]any) map[string]any {
	return ctx
}

func (Base) SmtpReturnCode(_ *request.Request, rendered *templates.ReturnCode, defaultCode int) *templates.ReturnCode {
	if rendered != nil {
		return rendered
	}
	return &templates.ReturnCode{Code: defaultCode, Message: "OK"}
}

type constructor func() Profile

var (
	registryMu sync.RWMutex
	registry   = map[string]constructor{}
)

// Register makes a profile selectable through v2tic.profile.
func Register(name string, fn func() Profile) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Lookup returns a fresh instance of the named profile.
func Lookup(name string) (Profile, error) {
	registryMu.RLock()
	fn, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown profile %q, available: %v", config.ErrConfiguration, name, Names())
	}
	return fn(), nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(GenericHttpsName, func() Profile { return &GenericHttps{} })
	Register(GenericSmtpName, func() Profile { return &GenericSmtp{} })
	Register(CnsSmtpName, func() Profile { return NewCnsSmtp() })
}
