package dataloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"
	"github.com/UkralStul/yatube/internal/storage/inmemory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	storage.Storage
	batches atomic.Int32
}

func (c *countingStore) GetAuthorsByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Author, error) {
	c.batches.Add(1)
	return c.Storage.GetAuthorsByIDs(ctx, ids)
}

func newStore(t *testing.T, names ...string) (*countingStore, []*domain.Author) {
	mem := inmemory.New()
	authors := make([]*domain.Author, len(names))
	for i, n := range names {
		a, err := mem.CreateAuthor(context.Background(), &domain.Author{Username: n})
		require.NoError(t, err)
		authors[i] = a
	}
	return &countingStore{Storage: mem}, authors
}

func TestAuthors_BatchesWithinRequest(t *testing.T) {
	store, authors := newStore(t, "alice", "bob", "carol")

	var got map[int64]*domain.Author
	h := Middleware(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, For(r.Context()))
		var err error
		got, err = Authors(r.Context(), store, []int64{authors[0].ID, authors[1].ID, authors[0].ID, 999})
		require.NoError(t, err)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.EqualValues(t, 1, store.batches.Load())
	assert.Len(t, got, 2)
	assert.Equal(t, "bob", got[authors[1].ID].Username)
}

func TestLoader_ConcurrentLoadsShareBatch(t *testing.T) {
	store, authors := newStore(t, "alice", "bob", "carol")
	loaders := NewLoaders(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, a := range authors {
		wg.Add(1)
		go func(a *domain.Author) {
			defer wg.Done()
			v, err := loaders.AuthorByID.Load(ctx, keyFor(a.ID))()
			assert.NoError(t, err)
			assert.Equal(t, a.Username, v.(*domain.Author).Username)
		}(a)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.batches.Load(), int32(len(authors)))
	assert.GreaterOrEqual(t, store.batches.Load(), int32(1))
}

func TestAuthors_WithoutMiddleware(t *testing.T) {
	store, authors := newStore(t, "alice")
	assert.Nil(t, For(context.Background()))

	got, err := Authors(context.Background(), store, []int64{authors[0].ID})
	require.NoError(t, err)
	assert.Equal(t, "alice", got[authors[0].ID].Username)
}
