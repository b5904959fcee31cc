package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/hibi/internal/diaryservice"
)

// NewRouter creates a chi router with the JSON read API.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *diaryservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/entries", h.ListEntries)
	r.Get("/entries/{year}/{month}/{day}", h.GetEntry)
	r.Get("/search", h.Search)
	r.Get("/runs", h.Runs)
	r.Get("/status", h.Status)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// SiteOptions configures NewSite.
type SiteOptions struct {
	StaticRoot  string // directory served at /, "" disables static files
	StaticIndex string // default document, "index.html" when empty
	AuthEnabled bool
	AuthToken   string
	Events      http.Handler
}

// NewSite assembles the public surface: POST /diary, the /api group and the
// static site. The diary endpoint is not behind API auth.
func NewSite(svc *diaryservice.Service, opts SiteOptions) chi.Router {
	r := chi.NewRouter()
	r.Post("/diary", NewDiaryHandler(svc).ServeHTTP)
	// Without these the static catch-all would answer other methods with 404.
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		r.MethodFunc(m, "/diary", postOnly)
	}
	r.Mount("/api", NewRouter(svc, opts.AuthEnabled, opts.AuthToken, opts.Events))
	r.Handle("/*", StaticHandler(opts.StaticRoot, opts.StaticIndex))
	return r
}

func postOnly(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}
