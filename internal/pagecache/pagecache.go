// Package pagecache caches rendered list pages for a short window and drops
// them all when a post changes.
package pagecache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/UkralStul/yatube/internal/cache"
)

// DefaultTTL is how long a rendered page is served from the cache.
const DefaultTTL = 20 * time.Second

// Key identifies one cached page.
type Key struct {
	Route  string
	Params map[string]string
	Page   int
}

// String renders the key as "route|k=v,k=v|page".
func (k Key) String() string {
	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Route)
	b.WriteByte('|')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k.Params[name])
	}
	fmt.Fprintf(&b, "|%d", k.Page)
	return b.String()
}

// PageCache is a read-through cache in front of list queries. Backend
// failures are logged and the request falls through to the loader.
type PageCache struct {
	backend cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// mu orders write-backs against invalidation: a page loaded before an
	// Invalidate call is never stored after it.
	mu    sync.RWMutex
	epoch uint64
	// bypassUntil is set when a clear fails. Entries written before it may be
	// stale until they expire, so the backend is not read or written until then.
	bypassUntil time.Time
}

// New wraps backend. A nil backend disables caching.
func New(backend cache.Cache, ttl time.Duration, logger *slog.Logger) *PageCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PageCache{backend: backend, ttl: ttl, logger: logger, now: time.Now}
}

// Fetch returns the cached page for key or loads, stores and returns it.
func (pc *PageCache) Fetch(ctx context.Context, key Key, load func(context.Context) ([]byte, error)) ([]byte, error) {
	k := key.String()
	if data, ok := pc.lookup(ctx, k); ok {
		return data, nil
	}

	epoch := pc.currentEpoch()
	data, err := load(ctx)
	if err != nil {
		return nil, err
	}
	pc.store(ctx, k, epoch, data)
	return data, nil
}

// Invalidate drops every cached page. It returns once the backend has been
// cleared, so the next read after a write sees fresh data.
func (pc *PageCache) Invalidate(ctx context.Context) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.epoch++
	if pc.backend == nil {
		return
	}
	if err := pc.backend.Clear(ctx); err != nil {
		pc.bypassUntil = pc.now().Add(pc.ttl)
		pc.logger.Error("page cache clear failed, bypassing cache until entries expire",
			"until", pc.bypassUntil, "error", err)
		return
	}
	pc.bypassUntil = time.Time{}
	pc.logger.Debug("page cache cleared", "epoch", pc.epoch)
}

func (pc *PageCache) currentEpoch() uint64 {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.epoch
}

// bypassed reports whether the backend must be skipped. Callers hold mu.
func (pc *PageCache) bypassed() bool {
	return pc.backend == nil || pc.now().Before(pc.bypassUntil)
}

func (pc *PageCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	pc.mu.RLock()
	skip := pc.bypassed()
	pc.mu.RUnlock()
	if skip {
		return nil, false
	}
	data, ok, err := pc.backend.Get(ctx, key)
	if err != nil {
		pc.logger.Warn("page cache read failed, serving from store", "key", key, "error", err)
		return nil, false
	}
	return data, ok
}

func (pc *PageCache) store(ctx context.Context, key string, epoch uint64, data []byte) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if pc.bypassed() {
		return
	}
	if pc.epoch != epoch {
		pc.logger.Debug("page cache skipped stale write-back", "key", key)
		return
	}
	if err := pc.backend.Set(ctx, key, data, pc.ttl); err != nil {
		pc.logger.Warn("page cache write failed", "key", key, "error", err)
	}
}
