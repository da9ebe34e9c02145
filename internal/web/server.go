// Package web serves the review dashboard: a directory given by the operator
// or, when none is set, the built-in page that follows /api/streams/ws and
// posts to /api/inbox.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var builtin embed.FS

type Server struct {
	// Dir overrides the built-in dashboard when set.
	Dir string
}

func (s *Server) Handler() http.Handler {
	var root http.FileSystem
	if s.Dir != "" {
		root = http.Dir(s.Dir)
	} else {
		sub, err := fs.Sub(builtin, "static")
		if err != nil {
			panic(err)
		}
		root = http.FS(sub)
	}
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		files.ServeHTTP(w, r)
	})
}
