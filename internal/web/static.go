// ABOUTME: Embedded demo frontend for trying the ceremonies in a browser
// ABOUTME: Serves a single static page via go:embed

package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var staticFS embed.FS

// staticHandler serves the embedded frontend at the site root.
func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// The embedded tree always contains static/; this is unreachable
		// unless the build itself is broken.
		panic(err)
	}
	return http.FileServerFS(sub)
}
