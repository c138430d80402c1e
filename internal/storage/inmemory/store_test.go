package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"
	"github.com/UkralStul/yatube/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, now func() time.Time) storage.Storage {
		return NewWithClock(now)
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()

	author, err := store.CreateAuthor(ctx, &domain.Author{Username: "alice"})
	require.NoError(t, err)
	post, err := store.CreatePost(ctx, &domain.Post{AuthorID: author.ID, Text: "hello"})
	require.NoError(t, err)

	post.Text = "tampered"
	post.AuthorID = 99

	got, err := store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, author.ID, got.AuthorID)
}
