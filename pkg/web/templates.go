package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/signonhq/signon/pkg/observability"
)

//go:embed templates/*.html
var templateFS embed.FS

type templates struct {
	login     *template.Template
	landing   *template.Template
	loggedOut *template.Template
}

func parseTemplates() (*templates, error) {
	t := &templates{}
	for name, dst := range map[string]**template.Template{
		"login.html":      &t.login,
		"landing.html":    &t.landing,
		"logged_out.html": &t.loggedOut,
	} {
		parsed, err := template.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		*dst = parsed
	}
	return t, nil
}

// render writes a template response, logging rather than surfacing a
// failure mid-body.
func render(w http.ResponseWriter, logger *observability.Logger, t *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		logger.WithError(err).Error("Failed to render template")
	}
}
