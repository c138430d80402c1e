package pagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/UkralStul/yatube/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type brokenCache struct{}

var errDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (brokenCache) Clear(context.Context) error { return errDown }

// failingClear is a working cache whose Clear always fails.
type failingClear struct {
	*cache.Memory
}

func (failingClear) Clear(context.Context) error { return errDown }

func TestKeyString(t *testing.T) {
	k := Key{Route: "profile", Params: map[string]string{"username": "alice", "b": "2"}, Page: 3}
	assert.Equal(t, "profile|b=2,username=alice|3", k.String())
	assert.Equal(t, "index||1", Key{Route: "index", Page: 1}.String())
}

func TestFetch_ReadThroughAndInvalidate(t *testing.T) {
	pc := New(cache.NewMemory(), DefaultTTL, quiet)
	ctx := context.Background()
	key := Key{Route: "index", Page: 1}

	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte(fmt.Sprintf("v%d", loads)), nil
	}

	data, err := pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	data, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data), "second read is served from the cache")
	assert.Equal(t, 1, loads)

	pc.Invalidate(ctx)
	data, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestFetch_Expires(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pc := New(cache.NewMemoryWithClock(func() time.Time { return now }), 0, quiet)
	assert.Equal(t, DefaultTTL, pc.ttl)
	ctx := context.Background()
	key := Key{Route: "index", Page: 1}

	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte("page"), nil
	}
	_, _ = pc.Fetch(ctx, key, load)
	now = now.Add(DefaultTTL - time.Second)
	_, _ = pc.Fetch(ctx, key, load)
	assert.Equal(t, 1, loads)

	now = now.Add(time.Second)
	_, _ = pc.Fetch(ctx, key, load)
	assert.Equal(t, 2, loads)
}

func TestFetch_SkipsStaleWriteBack(t *testing.T) {
	pc := New(cache.NewMemory(), DefaultTTL, quiet)
	ctx := context.Background()
	key := Key{Route: "index", Page: 1}

	_, err := pc.Fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		// A write lands while this page is being rendered.
		pc.Invalidate(ctx)
		return []byte("stale"), nil
	})
	require.NoError(t, err)

	data, err := pc.Fetch(ctx, key, func(context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestFetch_BackendFailureFallsThrough(t *testing.T) {
	pc := New(brokenCache{}, DefaultTTL, quiet)
	ctx := context.Background()

	data, err := pc.Fetch(ctx, Key{Route: "index", Page: 1}, func(context.Context) ([]byte, error) {
		return []byte("from store"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "from store", string(data))
	pc.Invalidate(ctx)
}

func TestFetch_FailedClearNeverServesStalePage(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	pc := New(failingClear{cache.NewMemoryWithClock(clock)}, DefaultTTL, quiet)
	pc.now = clock
	ctx := context.Background()
	key := Key{Route: "index", Page: 1}

	text := "hello"
	load := func(context.Context) ([]byte, error) { return []byte(text), nil }

	data, err := pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	text = "hello v2"
	pc.Invalidate(ctx)
	data, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "hello v2", string(data))

	// Nothing is written back while the cache is bypassed.
	text = "hello v3"
	data, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "hello v3", string(data))

	// Once every pre-clear entry has expired the cache is used again.
	now = now.Add(DefaultTTL)
	_, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	text = "hello v4"
	data, err = pc.Fetch(ctx, key, load)
	require.NoError(t, err)
	assert.Equal(t, "hello v3", string(data))
}

func TestFetch_RedisDown(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	pc := New(cache.NewRedis(client, "test:"), DefaultTTL, quiet)
	ctx := context.Background()

	data, err := pc.Fetch(ctx, Key{Route: "index", Page: 1}, func(context.Context) ([]byte, error) {
		return []byte("one"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	s.Close()
	data, err = pc.Fetch(ctx, Key{Route: "index", Page: 2}, func(context.Context) ([]byte, error) {
		return []byte("two"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestFetch_LoaderErrorNotCached(t *testing.T) {
	pc := New(cache.NewMemory(), DefaultTTL, quiet)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := pc.Fetch(ctx, Key{Route: "index"}, func(context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	data, err := pc.Fetch(ctx, Key{Route: "index"}, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func newRouter(pc *PageCache, status *int, body *string) http.Handler {
	r := chi.NewRouter()
	r.With(pc.Middleware("group")).Get("/group/{slug}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(*status)
		_, _ = fmt.Fprintf(w, `{"slug":%q,"body":%q,"page":%q}`, chi.URLParam(r, "slug"), *body, r.URL.Query().Get("page"))
	})
	return r
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestMiddleware(t *testing.T) {
	pc := New(cache.NewMemory(), DefaultTTL, quiet)
	status, body := http.StatusOK, "first"
	h := newRouter(pc, &status, &body)

	rec := get(t, h, "/group/cats")
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	assert.Contains(t, rec.Body.String(), "first")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body = "second"
	rec = get(t, h, "/group/cats")
	assert.Equal(t, "HIT", rec.Header().Get(CacheHeader))
	assert.Contains(t, rec.Body.String(), "first")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = get(t, h, "/group/cats?page=2")
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader), "pages are cached separately")
	rec = get(t, h, "/group/dogs")
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader), "route params are part of the key")

	pc.Invalidate(context.Background())
	rec = get(t, h, "/group/cats")
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	assert.Contains(t, rec.Body.String(), "second")
}

func TestMiddleware_FailedClear(t *testing.T) {
	pc := New(failingClear{cache.NewMemory()}, DefaultTTL, quiet)
	status, body := http.StatusOK, "hello"
	h := newRouter(pc, &status, &body)

	assert.Equal(t, "MISS", get(t, h, "/group/cats").Header().Get(CacheHeader))
	assert.Equal(t, "HIT", get(t, h, "/group/cats").Header().Get(CacheHeader))

	body = "hello v2"
	pc.Invalidate(context.Background())
	rec := get(t, h, "/group/cats")
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
	assert.Contains(t, rec.Body.String(), "hello v2")
}

func TestMiddleware_ErrorsNotCached(t *testing.T) {
	pc := New(cache.NewMemory(), DefaultTTL, quiet)
	status, body := http.StatusNotFound, "missing"
	h := newRouter(pc, &status, &body)

	rec := get(t, h, "/group/cats")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	status = http.StatusOK
	rec = get(t, h, "/group/cats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get(CacheHeader))
}
