// Package storagetest holds the behavioural suite every storage.Storage
// backend must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock hands out increasing timestamps. Set Step to zero to produce ties.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock starts a clock at a fixed instant advancing one second per call.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Step: time.Second}
}

// Now returns the current instant and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Factory builds an empty store stamping records with now.
type Factory func(t *testing.T, now func() time.Time) storage.Storage

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store storage.Storage
	clock *Clock
}

func newFixture(t *testing.T, factory Factory) *fixture {
	clock := NewClock()
	return &fixture{t: t, ctx: context.Background(), store: factory(t, clock.Now), clock: clock}
}

func (f *fixture) author(name string) *domain.Author {
	a, err := f.store.CreateAuthor(f.ctx, &domain.Author{Username: name, PasswordHash: "x"})
	require.NoError(f.t, err)
	return a
}

func (f *fixture) group(slug string) *domain.Group {
	g, err := f.store.CreateGroup(f.ctx, &domain.Group{Title: "Group " + slug, Slug: slug, Description: "about " + slug})
	require.NoError(f.t, err)
	return g
}

func (f *fixture) post(author *domain.Author, text string, group *domain.Group) *domain.Post {
	p := &domain.Post{AuthorID: author.ID, Text: text}
	if group != nil {
		p.GroupID = &group.ID
	}
	created, err := f.store.CreatePost(f.ctx, p)
	require.NoError(f.t, err)
	return created
}

func (f *fixture) comment(author *domain.Author, post *domain.Post, text string) *domain.Comment {
	c, err := f.store.CreateComment(f.ctx, &domain.Comment{PostID: &post.ID, AuthorID: author.ID, Text: text})
	require.NoError(f.t, err)
	return c
}

func texts(posts []*domain.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Text
	}
	return out
}

var all = storage.PaginationArgs{}

// Run executes the whole suite against the backend built by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("Authors", func(t *testing.T) { testAuthors(t, factory) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, factory) })
	t.Run("CreatePostValidation", func(t *testing.T) { testCreatePostValidation(t, factory) })
	t.Run("ListingOrder", func(t *testing.T) { testListingOrder(t, factory) })
	t.Run("Pagination", func(t *testing.T) { testPagination(t, factory) })
	t.Run("UpdatePost", func(t *testing.T) { testUpdatePost(t, factory) })
	t.Run("Comments", func(t *testing.T) { testComments(t, factory) })
	t.Run("DeletePostKeepsComments", func(t *testing.T) { testDeletePostKeepsComments(t, factory) })
	t.Run("DeleteGroupKeepsPosts", func(t *testing.T) { testDeleteGroupKeepsPosts(t, factory) })
	t.Run("DeleteAuthorCascades", func(t *testing.T) { testDeleteAuthorCascades(t, factory) })
	t.Run("Follows", func(t *testing.T) { testFollows(t, factory) })
	t.Run("ConcurrentFollow", func(t *testing.T) { testConcurrentFollow(t, factory) })
	t.Run("Feed", func(t *testing.T) { testFeed(t, factory) })
	t.Run("FeedMembership", func(t *testing.T) { testFeedMembership(t, factory) })
}

func testAuthors(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	assert.NotZero(t, alice.ID)

	got, err := f.store.GetAuthorByUsername(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = f.store.CreateAuthor(f.ctx, &domain.Author{Username: "alice", PasswordHash: "y"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.store.CreateAuthor(f.ctx, &domain.Author{Username: strings.Repeat("я", domain.MaxUsernameLength+1), PasswordHash: "y"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.store.CreateAuthor(f.ctx, &domain.Author{Username: strings.Repeat("я", domain.MaxUsernameLength), PasswordHash: "y"})
	assert.NoError(t, err)

	_, err = f.store.GetAuthorByUsername(f.ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.GetAuthorByID(f.ctx, alice.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	bob := f.author("bob")
	byID, err := f.store.GetAuthorsByIDs(f.ctx, []int64{alice.ID, bob.ID, bob.ID + 1000})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
	assert.Equal(t, "bob", byID[bob.ID].Username)
}

func testGroups(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	g := f.group("cats")

	got, err := f.store.GetGroupBySlug(f.ctx, "cats")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, "about cats", got.Description)

	_, err = f.store.CreateGroup(f.ctx, &domain.Group{Title: "Again", Slug: "cats"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.store.CreateGroup(f.ctx, &domain.Group{Title: " ", Slug: "dogs"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.store.CreateGroup(f.ctx, &domain.Group{Title: "Dogs", Slug: strings.Repeat("d", domain.MaxGroupSlugLength+1)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.store.GetGroupBySlug(f.ctx, "dogs")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.group("birds")
	groups, err := f.store.ListGroups(f.ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func testCreatePostValidation(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")

	_, err := f.store.CreatePost(f.ctx, &domain.Post{AuthorID: alice.ID, Text: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.store.CreatePost(f.ctx, &domain.Post{AuthorID: alice.ID + 1000, Text: "orphan"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	missing := int64(4242)
	_, err = f.store.CreatePost(f.ctx, &domain.Post{AuthorID: alice.ID, Text: "lost", GroupID: &missing})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, total, err := f.store.AllPosts(f.ctx, all)
	require.NoError(t, err)
	assert.Zero(t, total, "rejected writes must not leave posts behind")
}

func testListingOrder(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")
	cats := f.group("cats")

	f.post(alice, "a1", cats)
	f.post(bob, "b1", nil)
	f.post(alice, "a2", nil)

	posts, total, err := f.store.AllPosts(f.ctx, all)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, []string{"a2", "b1", "a1"}, texts(posts))

	posts, total, err = f.store.PostsByAuthor(f.ctx, alice.ID, all)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, []string{"a2", "a1"}, texts(posts))

	posts, _, err = f.store.PostsByGroup(f.ctx, cats.ID, all)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, texts(posts))

	n, err := f.store.CountPostsByAuthor(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// Equal timestamps fall back to insertion order.
	f.clock.Step = 0
	f.post(bob, "t1", nil)
	f.post(bob, "t2", nil)
	posts, _, err = f.store.PostsByAuthor(f.ctx, bob.ID, all)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "b1"}, texts(posts))
}

func testPagination(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	for i := 0; i < 13; i++ {
		f.post(alice, fmt.Sprintf("p%02d", i), nil)
	}

	first, total, err := f.store.AllPosts(f.ctx, storage.PaginationArgs{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 13, total)
	require.Len(t, first, 10)
	assert.Equal(t, "p12", first[0].Text)

	second, _, err := f.store.AllPosts(f.ctx, storage.PaginationArgs{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"p02", "p01", "p00"}, texts(second))

	empty, _, err := f.store.AllPosts(f.ctx, storage.PaginationArgs{Limit: 10, Offset: 30})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testUpdatePost(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	cats := f.group("cats")
	post := f.post(alice, "hello", cats)

	image := "posts/one.png"
	for i := 0; i < 3; i++ {
		updated, err := f.store.UpdatePost(f.ctx, post.ID, domain.PostUpdate{Text: fmt.Sprintf("hello v%d", i+2), Image: &image})
		require.NoError(t, err)
		assert.True(t, post.CreatedAt.Equal(updated.CreatedAt), "created_at must not move")
		assert.Equal(t, alice.ID, updated.AuthorID)
		assert.Nil(t, updated.GroupID)
	}

	got, err := f.store.GetPostByID(f.ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello v4", got.Text)
	assert.True(t, post.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.Image)
	assert.Equal(t, image, *got.Image)

	_, err = f.store.UpdatePost(f.ctx, post.ID, domain.PostUpdate{Text: ""})
	assert.ErrorIs(t, err, domain.ErrValidation)
	got, err = f.store.GetPostByID(f.ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello v4", got.Text, "failed update must not change the post")

	_, err = f.store.UpdatePost(f.ctx, post.ID+1000, domain.PostUpdate{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testComments(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")
	post := f.post(alice, "hello", nil)

	f.comment(bob, post, "first")
	f.comment(alice, post, "second")

	comments, err := f.store.GetCommentsByPostID(f.ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Text)
	assert.Equal(t, "second", comments[1].Text)

	_, err = f.store.CreateComment(f.ctx, &domain.Comment{PostID: &post.ID, AuthorID: bob.ID, Text: strings.Repeat("a", domain.MaxCommentLength+1)})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.store.CreateComment(f.ctx, &domain.Comment{PostID: &post.ID, AuthorID: bob.ID, Text: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	missing := post.ID + 1000
	_, err = f.store.CreateComment(f.ctx, &domain.Comment{PostID: &missing, AuthorID: bob.ID, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDeletePostKeepsComments(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")
	post := f.post(alice, "hello", nil)
	c := f.comment(bob, post, "nice")

	require.NoError(t, f.store.DeletePost(f.ctx, post.ID))

	_, err := f.store.GetPostByID(f.ctx, post.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.store.GetCommentByID(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PostID)
	assert.Equal(t, "nice", got.Text)

	assert.ErrorIs(t, f.store.DeletePost(f.ctx, post.ID), domain.ErrNotFound)
}

func testDeleteGroupKeepsPosts(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	cats := f.group("cats")
	post := f.post(alice, "meow", cats)

	require.NoError(t, f.store.DeleteGroup(f.ctx, cats.ID))

	got, err := f.store.GetPostByID(f.ctx, post.ID)
	require.NoError(t, err)
	assert.Nil(t, got.GroupID)

	_, err = f.store.GetGroupBySlug(f.ctx, "cats")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDeleteAuthorCascades(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")

	alicePost := f.post(alice, "by alice", nil)
	bobPost := f.post(bob, "by bob", nil)
	aliceComment := f.comment(alice, bobPost, "alice on bob")
	bobComment := f.comment(bob, alicePost, "bob on alice")
	_, err := f.store.CreateFollow(f.ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.store.CreateFollow(f.ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteAuthor(f.ctx, alice.ID))

	_, err = f.store.GetPostByID(f.ctx, alicePost.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.GetCommentByID(f.ctx, aliceComment.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	survivor, err := f.store.GetCommentByID(f.ctx, bobComment.ID)
	require.NoError(t, err)
	assert.Nil(t, survivor.PostID)

	_, err = f.store.GetPostByID(f.ctx, bobPost.ID)
	assert.NoError(t, err)

	n, err := f.store.CountFollows(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, f.store.DeleteAuthor(f.ctx, alice.ID), domain.ErrNotFound)
}

func testFollows(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")

	before, err := f.store.CountFollows(f.ctx)
	require.NoError(t, err)

	_, err = f.store.CreateFollow(f.ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	_, err = f.store.CreateFollow(f.ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.store.CreateFollow(f.ctx, bob.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.store.CreateFollow(f.ctx, bob.ID, alice.ID+1000)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	following, err := f.store.IsFollowing(f.ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, following)
	following, err = f.store.IsFollowing(f.ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, following)

	followers, err := f.store.FollowerIDs(f.ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{bob.ID}, followers)

	require.NoError(t, f.store.DeleteFollow(f.ctx, bob.ID, alice.ID))
	after, err := f.store.CountFollows(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.NoError(t, f.store.DeleteFollow(f.ctx, bob.ID, alice.ID), "second unfollow is a no-op")
}

func testConcurrentFollow(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.store.CreateFollow(f.ctx, bob.ID, alice.ID)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)

	n, err := f.store.CountFollows(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testFeed(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	alice := f.author("alice")
	bob := f.author("bob")
	carol := f.author("carol")
	dave := f.author("dave")

	feed, total, err := f.store.FeedPosts(f.ctx, bob.ID, all)
	require.NoError(t, err)
	assert.Empty(t, feed)
	assert.Zero(t, total)

	_, err = f.store.CreateFollow(f.ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.store.CreateFollow(f.ctx, bob.ID, dave.ID)
	require.NoError(t, err)

	f.post(alice, "old alice", nil)
	f.post(dave, "dave", nil)
	f.post(carol, "carol", nil)
	fresh := f.post(alice, "new text", nil)

	feed, total, err = f.store.FeedPosts(f.ctx, bob.ID, all)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, []string{"new text", "dave", "old alice"}, texts(feed))

	feed, _, err = f.store.FeedPosts(f.ctx, carol.ID, all)
	require.NoError(t, err)
	assert.NotContains(t, texts(feed), "new text")

	page, _, err := f.store.FeedPosts(f.ctx, bob.ID, storage.PaginationArgs{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"old alice"}, texts(page))

	require.NoError(t, f.store.DeletePost(f.ctx, fresh.ID))
	feed, _, err = f.store.FeedPosts(f.ctx, bob.ID, all)
	require.NoError(t, err)
	assert.NotContains(t, texts(feed), "new text")
}

func testFeedMembership(t *testing.T, factory Factory) {
	f := newFixture(t, factory)
	authors := []*domain.Author{f.author("a"), f.author("b"), f.author("c"), f.author("d")}
	for i, a := range authors {
		f.post(a, fmt.Sprintf("%s-1", a.Username), nil)
		if i%2 == 0 {
			f.post(a, fmt.Sprintf("%s-2", a.Username), nil)
		}
	}
	follows := map[[2]int]bool{{0, 1}: true, {0, 2}: true, {1, 0}: true, {2, 3}: true, {3, 0}: true, {3, 1}: true}
	for pair := range follows {
		_, err := f.store.CreateFollow(f.ctx, authors[pair[0]].ID, authors[pair[1]].ID)
		require.NoError(t, err)
	}

	posts, _, err := f.store.AllPosts(f.ctx, all)
	require.NoError(t, err)

	for ui, u := range authors {
		feed, _, err := f.store.FeedPosts(f.ctx, u.ID, all)
		require.NoError(t, err)
		inFeed := make(map[int64]bool, len(feed))
		for _, p := range feed {
			inFeed[p.ID] = true
		}
		for i := 1; i < len(feed); i++ {
			assert.False(t, domain.PostNewerFirst(feed[i], feed[i-1]), "feed must stay in listing order")
		}
		for _, p := range posts {
			var ai int
			for i, a := range authors {
				if a.ID == p.AuthorID {
					ai = i
				}
			}
			assert.Equal(t, follows[[2]int{ui, ai}], inFeed[p.ID], "user %s post %s", u.Username, p.Text)
		}
	}
}
