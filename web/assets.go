// Package web embeds the page templates and static assets served by debugflow.
package web

import "embed"

// Assets holds index.html, error.html, success.html and favicon.png.
//
//go:embed index.html error.html success.html favicon.png
var Assets embed.FS

// Asset file names.
const (
	IndexTemplate   = "index.html"
	ErrorTemplate   = "error.html"
	SuccessTemplate = "success.html"
	Favicon         = "favicon.png"
)
