// Package web renders the HTML surface named in spec.md §4.4 but left as
// an external collaborator by §1 ("server-side HTML template rendering
// with i18n" is out of scope). It supplies the minimal built-in templates
// the relay itself serves, plus the narrow CONFIG_DIR override seam that
// is in scope: the relay knows how to look for a themed replacement, it
// does not ship a theming pipeline. Grounded on the teacher's
// internal/server.SignalingServer embed.FS usage.
package web

import (
	"embed"
	"html/template"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/artpar/wallet-relay/internal/logging"
)

//go:embed templates/*.html
var embeddedTemplates embed.FS

//go:embed static/logo.svg
var embeddedLogo []byte

// Logo returns the embedded brand logo bytes.
func Logo() []byte { return embeddedLogo }

// Renderer renders the relay's built-in HTML pages, preferring a
// CONFIG_DIR/templates/<name>.html override over the embedded default.
type Renderer struct {
	configDir string
	log       *logging.Logger
	cache     map[string]*template.Template
}

// New builds a Renderer that looks for overrides under configDir.
func New(configDir string, log *logging.Logger) *Renderer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Renderer{
		configDir: configDir,
		log:       log,
		cache:     make(map[string]*template.Template),
	}
}

// Render executes the named template (without its .html suffix) against
// data, writing to w. Names: "index", "landing", "bridge", "demo", "session".
func (r *Renderer) Render(w io.Writer, name string, data interface{}) error {
	tmpl, err := r.load(name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}

func (r *Renderer) load(name string) (*template.Template, error) {
	if tmpl, ok := r.cache[name]; ok {
		return tmpl, nil
	}

	overridePath := filepath.Join(r.configDir, "templates", name+".html")
	if body, err := os.ReadFile(overridePath); err == nil {
		tmpl, err := template.New(name).Parse(string(body))
		if err != nil {
			return nil, err
		}
		r.log.Debug("using template override", zap.String("name", name), zap.String("path", overridePath))
		r.cache[name] = tmpl
		return tmpl, nil
	}

	tmpl, err := template.ParseFS(embeddedTemplates, "templates/"+name+".html")
	if err != nil {
		return nil, err
	}
	r.cache[name] = tmpl
	return tmpl, nil
}
