package templates

import (
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed html/*.html
var files embed.FS

// FuncMap holds the helpers available to every page.
var FuncMap = template.FuncMap{
	"pluralize": func(n int64) string {
		if n == 1 {
			return ""
		}
		return "s"
	},
	"formatDate": func(t time.Time) string {
		return t.Format("Jan 2, 2006, 15:04")
	},
}

// Load parses the embedded page templates. Pages are addressed by file name,
// e.g. "index.html".
func Load() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(FuncMap).ParseFS(files, "html/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// MustLoad is Load for program start-up.
func MustLoad() *template.Template {
	tmpl, err := Load()
	if err != nil {
		panic(err)
	}
	return tmpl
}
