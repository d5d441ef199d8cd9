package web

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates static
var Assets embed.FS

var pages = template.Must(template.ParseFS(Assets, "templates/*.html"))

// Page is the data the dashboard shell renders with.
type Page struct {
	Title   string
	Locale  string
	Locales []string
}

func RenderIndex(w io.Writer, page Page) error {
	return pages.ExecuteTemplate(w, "index.html", page)
}

func Static() (fs.FS, error) {
	return fs.Sub(Assets, "static")
}
