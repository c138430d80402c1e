// Package httpapi exposes the blog over HTTP as a JSON API.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/dataloader"
	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/media"
	"github.com/UkralStul/yatube/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	pingInterval = 10 * time.Second
	writeWait    = 5 * time.Second
)

// Deps are the collaborators the router is built from. Hub and Media are optional.
type Deps struct {
	Blog   *blog.Service
	Auth   *auth.Service
	Hub    *notify.Hub
	Media  *media.Store
	Logger *slog.Logger
	// Admins may manage groups and delete any author.
	Admins []string
}

type handler struct {
	blog     *blog.Service
	auth     *auth.Service
	hub      *notify.Hub
	media    *media.Store
	logger   *slog.Logger
	admins   map[string]bool
	upgrader websocket.Upgrader
}

// NewRouter wires every route of the API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		blog:   deps.Blog,
		auth:   deps.Auth,
		hub:    deps.Hub,
		media:  deps.Media,
		logger: logger,
		admins: make(map[string]bool, len(deps.Admins)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, name := range deps.Admins {
		h.admins[name] = true
	}
	pages := deps.Blog.Pages()
	store := deps.Blog.Store()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler { return dataloader.Middleware(store, next) })
	router.Use(auth.Middleware(deps.Auth))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "page not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	router.Get("/health", h.health)
	router.Post("/auth/signup", h.signup)
	router.Post("/auth/login", h.login)

	if h.media != nil {
		router.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(h.media.Root()))))
	}

	router.With(pages.Middleware("index")).Get("/", h.index)
	router.With(pages.Middleware("group")).Get("/group/{slug}", h.group)
	router.Get("/groups", h.listGroups)

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthor)
		r.Get("/follow", h.feed)
		r.Post("/new", h.createPost)
		r.Post("/{username}/{postID}/edit", h.editPost)
		r.Post("/{username}/{postID}/comment", h.addComment)
		r.Delete("/{username}/{postID}", h.deletePost)
		r.Post("/{username}/follow", h.follow)
		r.Post("/{username}/unfollow", h.unfollow)
		r.Get("/ws/feed", h.liveFeed)
		r.Delete("/{username}", h.deleteAuthor)
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthor, h.requireAdmin)
		r.Post("/groups", h.createGroup)
		r.Delete("/group/{slug}", h.deleteGroup)
	})

	// Profiles carry the viewer's follow state, so only anonymous views are shared.
	router.With(anonymousOnly(pages.Middleware("profile"))).Get("/{username}", h.profile)
	router.Get("/{username}/{postID}", h.post)

	return router
}

func anonymousOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		cached := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.AuthorFrom(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}
			cached.ServeHTTP(w, r)
		})
	}
}

func (h *handler) isAdmin(a *domain.Author) bool {
	return a != nil && h.admins[a.Username]
}

func (h *handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(auth.AuthorFrom(r.Context())) {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
