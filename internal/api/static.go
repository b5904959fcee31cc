package api

import (
	"net/http"
	"strings"
)

// DefaultIndex is the document served for directory requests.
const DefaultIndex = "index.html"

// StaticHandler serves files under root. Directory requests get index as the
// default document. An empty root serves nothing.
func StaticHandler(root, index string) http.Handler {
	if root == "" {
		return http.NotFoundHandler()
	}
	fs := http.FileServer(http.Dir(root))
	if index == "" || index == DefaultIndex {
		// http.FileServer already serves index.html for directories.
		return fs
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			r2 := r.Clone(r.Context())
			r2.URL.Path = r.URL.Path + index
			fs.ServeHTTP(w, r2)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
