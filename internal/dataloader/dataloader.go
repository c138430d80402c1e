package dataloader

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"

	"github.com/graph-gophers/dataloader"
)

type contextKey string

const key = contextKey("dataloaders")

// Loaders holds the per-request batch loaders.
type Loaders struct {
	AuthorByID *dataloader.Loader
}

// NewLoaders builds loaders backed by store. Lookups issued within one wait
// window are served by a single GetAuthorsByIDs call.
func NewLoaders(store storage.Storage) *Loaders {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				return failAll(len(keys), fmt.Errorf("author key %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		authors, err := store.GetAuthorsByIDs(ctx, ids)
		if err != nil {
			return failAll(len(keys), err)
		}

		// Results must follow the order of keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if a, ok := authors[id]; ok {
				results[i] = &dataloader.Result{Data: a}
			} else {
				results[i] = &dataloader.Result{Error: domain.NotFoundf("author %d", id)}
			}
		}
		return results
	}

	return &Loaders{
		AuthorByID: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(time.Millisecond)),
	}
}

func failAll(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}

// Middleware injects fresh loaders into every request context.
func Middleware(store storage.Storage, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), key, NewLoaders(store))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// For extracts the loaders from ctx. It returns nil outside Middleware.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(key).(*Loaders)
	return loaders
}

// Authors resolves the given author IDs, batching through the request
// loaders when present and falling back to a direct store call otherwise.
func Authors(ctx context.Context, store storage.Storage, ids []int64) (map[int64]*domain.Author, error) {
	loaders := For(ctx)
	if loaders == nil {
		return store.GetAuthorsByIDs(ctx, ids)
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = keyFor(id)
	}
	values, errs := loaders.AuthorByID.LoadMany(ctx, keys)()

	result := make(map[int64]*domain.Author, len(ids))
	for i, v := range values {
		if len(errs) > i && errs[i] != nil {
			continue
		}
		if a, ok := v.(*domain.Author); ok {
			result[ids[i]] = a
		}
	}
	return result, nil
}

func keyFor(id int64) dataloader.Key {
	return dataloader.StringKey(strconv.FormatInt(id, 10))
}
