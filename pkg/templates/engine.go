package templates

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/goccy/go-json"
	"github.com/mynaparrot/v2tic-server/pkg/config"
	"github.com/sirupsen/logrus"
)

var registerOnce sync.Once

// registerFilters installs the filters profile templates rely on.
// pongo2 filters are process wide, so this runs once.
func registerFilters() {
	registerOnce.Do(func() {
		// templates render JSON, html escaping would corrupt it
		pongo2.SetAutoescape(false)

		_ = pongo2.RegisterFilter("tojson", func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			b, err := json.Marshal(in.Interface())
			if err != nil {
				return nil, &pongo2.Error{Sender: "filter:tojson", OrigError: err}
			}
			return pongo2.AsSafeValue(string(b)), nil
		})
		_ = pongo2.RegisterFilter("b64encode", func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
			return pongo2.AsValue(base64.StdEncoding.EncodeToString([]byte(in.String()))), nil
		})
	})
}

// Engine renders the templates of one profile folder. It is built once at
// startup and only read afterwards.
type Engine struct {
	folder    string
	set       *pongo2.TemplateSet
	templates map[string]*pongo2.Template
	logger    *logrus.Entry
}

// New loads the profile templates from folder. request.j2 and response.j2 are
// mandatory; after_deposit_ack.j2 and smtp_return_code.j2 are optional.
func New(folder string, logger *logrus.Logger) (*Engine, error) {
	registerFilters()

	loader, err := pongo2.NewLocalFileSystemLoader(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: template folder %s: %v", config.ErrConfiguration, folder, err)
	}

	e := &Engine{
		folder:    folder,
		set:       pongo2.NewSet("v2tic", loader),
		templates: make(map[string]*pongo2.Template),
		logger:    logger.WithField("component", "templates"),
	}

	mandatory := []string{config.RequestTemplate, config.ResponseTemplate}
	optional := []string{config.AfterDepositAckTemplate, config.SmtpReturnCodeTemplate}

	for _, name := range mandatory {
		if err = e.load(name); err != nil {
			return nil, fmt.Errorf("%w: mandatory template %s: %v", config.ErrConfiguration, name, err)
		}
	}
	for _, name := range optional {
		if _, err = os.Stat(filepath.Join(folder, name)); err != nil {
			continue
		}
		if err = e.load(name); err != nil {
			return nil, fmt.Errorf("%w: template %s: %v", config.ErrConfiguration, name, err)
		}
	}

	e.logger.WithField("folder", folder).Infof("loaded %d templates", len(e.templates))
	return e, nil
}

func (e *Engine) load(name string) error {
	tpl, err := e.set.FromFile(name)
	if err != nil {
		return err
	}
	e.templates[name] = tpl
	return nil
}

// Has reports whether the named template was found at startup.
func (e *Engine) Has(name string) bool {
	_, ok := e.templates[name]
	return ok
}

func (e *Engine) Folder() string {
	return e.folder
}

// RenderString executes a template, loading sub-templates on demand.
func (e *Engine) RenderString(name string, ctx map[string]any) (string, error) {
	tpl, ok := e.templates[name]
	if !ok {
		var err error
		// sub-templates referenced by an import directive
		tpl, err = e.set.FromCache(name)
		if err != nil {
			return "", fmt.Errorf("template %s: %w", name, err)
		}
	}

	out, err := tpl.Execute(pongo2.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return out, nil
}

// Render executes a template whose output is a JSON object and decodes it.
func (e *Engine) Render(name string, ctx map[string]any) (map[string]any, error) {
	out, err := e.RenderString(name, ctx)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]any)
	if err = json.Unmarshal([]byte(out), &doc); err != nil {
		return nil, fmt.Errorf("template %s did not render a JSON object: %w", name, err)
	}
	return doc, nil
}
