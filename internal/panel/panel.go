package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// Handler returns an http.Handler for the operator page. prefix is the
// mount point stripped from request paths, such as "/ui".
//
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir, prefix string) http.Handler {
	var fileSystem http.FileSystem

	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}

	if fileSystem == nil {
		webFS, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
		}
		fileSystem = http.FS(webFS)
	}

	fileServer := http.StripPrefix(prefix, http.FileServer(fileSystem))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		w.Header().Set("X-Frame-Options", "DENY")

		upath := path.Clean("/" + strings.TrimPrefix(r.URL.Path, prefix))
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		f, err := fileSystem.Open(upath[1:])
		if err == nil {
			f.Close()
			fileServer.ServeHTTP(w, r)
			return
		}

		if path.Ext(upath) != "" {
			http.NotFound(w, r)
			return
		}

		// Client-side route: serve the page itself.
		r2 := r.Clone(r.Context())
		r2.URL.Path = prefix + "/"
		r2.URL.RawPath = ""
		fileServer.ServeHTTP(w, r2)
	})
}
