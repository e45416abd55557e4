// Package web holds the editor page templates and the assets they load.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var TemplatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Static returns the assets rooted at their URL path, so "app.css" is
// served as /static/app.css.
func Static() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}
