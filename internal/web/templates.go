package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates parses the embedded page templates for gin's HTML renderer.
func Templates() (*template.Template, error) {
	return template.New("").ParseFS(templateFS, "templates/*.tmpl")
}
