package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:static all:migrations
var content embed.FS

// MigrationsFS holds the SQL migrations under "migrations".
func MigrationsFS() fs.FS {
	return content
}

// StaticHandler serves the dashboard shell and its assets.
func StaticHandler() http.Handler {
	fsys, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(fsys))
}
