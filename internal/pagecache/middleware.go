package pagecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/UkralStul/yatube/internal/paginate"

	"github.com/go-chi/chi/v5"
)

// CacheHeader reports whether a response came from the cache.
const CacheHeader = "X-Page-Cache"

type entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) entry() entry {
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return entry{Status: status, ContentType: r.header.Get("Content-Type"), Body: r.body.Bytes()}
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

// KeyFor builds the cache key of a request routed by chi.
func KeyFor(route string, r *http.Request) Key {
	params := map[string]string{}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, name := range rctx.URLParams.Keys {
			if name == "*" {
				continue
			}
			params[name] = rctx.URLParams.Values[i]
		}
	}
	return Key{Route: route, Params: params, Page: paginate.Requested(r.URL.Query().Get("page"))}
}

// errUncacheable stops Fetch from storing a response that is not a 200.
var errUncacheable = errors.New("response is not cacheable")

// Middleware caches successful GET responses of the wrapped list view under route.
func (pc *PageCache) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := KeyFor(route, r)

			var rec *recorder
			data, err := pc.Fetch(r.Context(), key, func(ctx context.Context) ([]byte, error) {
				rec = &recorder{header: http.Header{}}
				next.ServeHTTP(rec, r)
				if rec.entry().Status != http.StatusOK {
					return nil, errUncacheable
				}
				return json.Marshal(rec.entry())
			})
			if rec != nil {
				for name, values := range rec.header {
					w.Header()[name] = values
				}
				writeEntry(w, rec.entry(), "MISS")
				return
			}
			if err != nil {
				pc.logger.Error("page cache fetch failed", "key", key.String(), "error", err)
				next.ServeHTTP(w, r)
				return
			}

			var e entry
			if err := json.Unmarshal(data, &e); err != nil {
				pc.logger.Warn("page cache entry unreadable", "key", key.String(), "error", err)
				next.ServeHTTP(w, r)
				return
			}
			writeEntry(w, e, "HIT")
		})
	}
}

func writeEntry(w http.ResponseWriter, e entry, state string) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.Header().Set(CacheHeader, state)
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}
