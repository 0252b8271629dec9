package runtime

import (
	"embed"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var configTemplates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))
