package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"
)

type followKey struct {
	follower int64
	followee int64
}

// Store implements storage.Storage in memory. Every mutation is applied under
// the write lock and callers only ever receive copies of stored records.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int64
	authors  map[int64]*domain.Author
	groups   map[int64]*domain.Group
	posts    map[int64]*domain.Post
	comments map[int64]*domain.Comment
	follows  map[followKey]*domain.Follow

	authorsByName map[string]int64
	groupsBySlug  map[string]int64
	postsByAuthor map[int64][]int64 // map[authorID][]postID
}

// New creates an empty in-memory store.
func New() *Store {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

// NewWithClock creates an empty store that stamps records using now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		now:           now,
		authors:       make(map[int64]*domain.Author),
		groups:        make(map[int64]*domain.Group),
		posts:         make(map[int64]*domain.Post),
		comments:      make(map[int64]*domain.Comment),
		follows:       make(map[followKey]*domain.Follow),
		authorsByName: make(map[string]int64),
		groupsBySlug:  make(map[string]int64),
		postsByAuthor: make(map[int64][]int64),
	}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// === Author Methods ===

func (s *Store) CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error) {
	if err := domain.ValidateUsername(author.Username); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authorsByName[author.Username]; ok {
		return nil, domain.Conflictf("username %q is taken", author.Username)
	}
	a := *author
	a.ID = s.id()
	a.CreatedAt = s.now()
	s.authors[a.ID] = &a
	s.authorsByName[a.Username] = a.ID

	out := a
	return &out, nil
}

func (s *Store) GetAuthorByID(ctx context.Context, id int64) (*domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.authors[id]
	if !ok {
		return nil, domain.NotFoundf("author %d", id)
	}
	out := *a
	return &out, nil
}

func (s *Store) GetAuthorByUsername(ctx context.Context, username string) (*domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.authorsByName[username]
	if !ok {
		return nil, domain.NotFoundf("author %q", username)
	}
	out := *s.authors[id]
	return &out, nil
}

func (s *Store) GetAuthorsByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Author, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]*domain.Author, len(ids))
	for _, id := range ids {
		if a, ok := s.authors[id]; ok {
			out := *a
			result[id] = &out
		}
	}
	return result, nil
}

// DeleteAuthor removes the author with their posts, comments and follow edges.
// Comments left by others on the removed posts stay, detached from the post.
func (s *Store) DeleteAuthor(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.authors[id]
	if !ok {
		return domain.NotFoundf("author %d", id)
	}

	for cid, c := range s.comments {
		if c.AuthorID == id {
			delete(s.comments, cid)
		}
	}
	for _, pid := range s.postsByAuthor[id] {
		s.deletePostLocked(pid)
	}
	delete(s.postsByAuthor, id)
	for k := range s.follows {
		if k.follower == id || k.followee == id {
			delete(s.follows, k)
		}
	}
	delete(s.authorsByName, a.Username)
	delete(s.authors, id)
	return nil
}

// === Group Methods ===

func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	if err := domain.ValidateGroup(group); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groupsBySlug[group.Slug]; ok {
		return nil, domain.Conflictf("group slug %q is taken", group.Slug)
	}
	g := *group
	g.ID = s.id()
	s.groups[g.ID] = &g
	s.groupsBySlug[g.Slug] = g.ID

	out := g
	return &out, nil
}

func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.groupsBySlug[slug]
	if !ok {
		return nil, domain.NotFoundf("group %q", slug)
	}
	out := *s.groups[id]
	return &out, nil
}

func (s *Store) GetGroupByID(ctx context.Context, id int64) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, domain.NotFoundf("group %d", id)
	}
	out := *g
	return &out, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]*domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out := *g
		groups = append(groups, &out)
	}
	sortGroups(groups)
	return groups, nil
}

// DeleteGroup removes the group and detaches its posts.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return domain.NotFoundf("group %d", id)
	}
	for _, p := range s.posts {
		if p.GroupID != nil && *p.GroupID == id {
			p.GroupID = nil
		}
	}
	delete(s.groupsBySlug, g.Slug)
	delete(s.groups, id)
	return nil
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	if err := domain.ValidatePostText(post.Text); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[post.AuthorID]; !ok {
		return nil, domain.NotFoundf("author %d", post.AuthorID)
	}
	if post.GroupID != nil {
		if _, ok := s.groups[*post.GroupID]; !ok {
			return nil, domain.NotFoundf("group %d", *post.GroupID)
		}
	}

	p := clonePost(post)
	p.ID = s.id()
	p.CreatedAt = s.now()
	s.posts[p.ID] = p
	s.postsByAuthor[p.AuthorID] = append(s.postsByAuthor[p.AuthorID], p.ID)

	return clonePost(p), nil
}

func (s *Store) GetPostByID(ctx context.Context, id int64) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, domain.NotFoundf("post %d", id)
	}
	return clonePost(p), nil
}

// UpdatePost rewrites text, group and image. Author and creation time are kept.
func (s *Store) UpdatePost(ctx context.Context, id int64, upd domain.PostUpdate) (*domain.Post, error) {
	if err := domain.ValidatePostText(upd.Text); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, domain.NotFoundf("post %d", id)
	}
	if upd.GroupID != nil {
		if _, ok := s.groups[*upd.GroupID]; !ok {
			return nil, domain.NotFoundf("group %d", *upd.GroupID)
		}
	}

	next := clonePost(p)
	next.Text = upd.Text
	next.GroupID = cloneInt(upd.GroupID)
	if upd.Image != nil {
		next.Image = cloneString(upd.Image)
	}
	s.posts[id] = next
	return clonePost(next), nil
}

// DeletePost removes the post; its comments stay, detached from the post.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return domain.NotFoundf("post %d", id)
	}
	ids := s.postsByAuthor[p.AuthorID]
	for i, pid := range ids {
		if pid == id {
			s.postsByAuthor[p.AuthorID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	s.deletePostLocked(id)
	return nil
}

func (s *Store) deletePostLocked(id int64) {
	for _, c := range s.comments {
		if c.PostID != nil && *c.PostID == id {
			c.PostID = nil
		}
	}
	delete(s.posts, id)
}

func (s *Store) CountPostsByAuthor(ctx context.Context, authorID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.postsByAuthor[authorID])), nil
}

// === Listing Methods ===

func (s *Store) AllPosts(ctx context.Context, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		all = append(all, p)
	}
	return paginatePosts(all, args), int64(len(all)), nil
}

func (s *Store) PostsByAuthor(ctx context.Context, authorID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	posts := s.authorPostsLocked(authorID)
	return paginatePosts(posts, args), int64(len(posts)), nil
}

func (s *Store) PostsByGroup(ctx context.Context, groupID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var posts []*domain.Post
	for _, p := range s.posts {
		if p.GroupID != nil && *p.GroupID == groupID {
			posts = append(posts, p)
		}
	}
	return paginatePosts(posts, args), int64(len(posts)), nil
}

// FeedPosts merges the posts of every followee of followerID.
func (s *Store) FeedPosts(ctx context.Context, followerID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var feed []*domain.Post
	for k := range s.follows {
		if k.follower == followerID {
			feed = append(feed, s.authorPostsLocked(k.followee)...)
		}
	}
	return paginatePosts(feed, args), int64(len(feed)), nil
}

func (s *Store) authorPostsLocked(authorID int64) []*domain.Post {
	ids := s.postsByAuthor[authorID]
	posts := make([]*domain.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			posts = append(posts, p)
		}
	}
	return posts
}

// paginatePosts sorts posts in listing order and copies out the requested window.
func paginatePosts(posts []*domain.Post, args storage.PaginationArgs) []*domain.Post {
	domain.SortPosts(posts)
	start, end := storage.Window(len(posts), args)
	page := make([]*domain.Post, 0, end-start)
	for _, p := range posts[start:end] {
		page = append(page, clonePost(p))
	}
	return page
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	if err := domain.ValidateCommentText(comment.Text); err != nil {
		return nil, err
	}
	if comment.PostID == nil {
		return nil, domain.Validationf("comment must reference a post")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[*comment.PostID]; !ok {
		return nil, domain.NotFoundf("post %d", *comment.PostID)
	}
	if _, ok := s.authors[comment.AuthorID]; !ok {
		return nil, domain.NotFoundf("author %d", comment.AuthorID)
	}

	c := cloneComment(comment)
	c.ID = s.id()
	c.CreatedAt = s.now()
	s.comments[c.ID] = c
	return cloneComment(c), nil
}

func (s *Store) GetCommentByID(ctx context.Context, id int64) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, domain.NotFoundf("comment %d", id)
	}
	return cloneComment(c), nil
}

func (s *Store) GetCommentsByPostID(ctx context.Context, postID int64) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comments := []*domain.Comment{}
	for _, c := range s.comments {
		if c.PostID != nil && *c.PostID == postID {
			comments = append(comments, cloneComment(c))
		}
	}
	domain.SortComments(comments)
	return comments, nil
}

// === Follow Methods ===

func (s *Store) CreateFollow(ctx context.Context, followerID, followeeID int64) (*domain.Follow, error) {
	if err := domain.ValidateFollow(followerID, followeeID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authors[followerID]; !ok {
		return nil, domain.NotFoundf("author %d", followerID)
	}
	if _, ok := s.authors[followeeID]; !ok {
		return nil, domain.NotFoundf("author %d", followeeID)
	}
	key := followKey{follower: followerID, followee: followeeID}
	if _, ok := s.follows[key]; ok {
		return nil, domain.Conflictf("author %d already follows %d", followerID, followeeID)
	}
	f := &domain.Follow{
		ID:         s.id(),
		FollowerID: followerID,
		FolloweeID: followeeID,
		CreatedAt:  s.now(),
	}
	s.follows[key] = f

	out := *f
	return &out, nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followeeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.follows, followKey{follower: followerID, followee: followeeID})
	return nil
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followeeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.follows[followKey{follower: followerID, followee: followeeID}]
	return ok, nil
}

func (s *Store) FollowerIDs(ctx context.Context, followeeID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for k := range s.follows {
		if k.followee == followeeID {
			ids = append(ids, k.follower)
		}
	}
	return ids, nil
}

func (s *Store) CountFollows(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.follows)), nil
}
