package templates

import (
	"embed"
	"fmt"
	"html/template"
	"math"
)

//go:embed *.html
var FS embed.FS

var funcs = template.FuncMap{
	"dms": formatDMS,
}

// LoadTemplates parses the setup pages from the embedded filesystem.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(FS, "*.html")
}

// formatDMS renders decimal degrees as ±DD°MM'SS".
func formatDMS(v float64) string {
	sign := "+"
	if v < 0 {
		sign = "-"
	}
	total := int(math.Round(math.Abs(v) * 3600))
	if total == 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%d°%02d'%02d\"", sign, total/3600, total/60%60, total%60)
}
