// Package blog implements the blogging use cases on top of the entity store:
// listings, the follow feed, authoring, comments and follows. Every write that
// changes a post invalidates the page cache before it returns.
package blog

import (
	"context"
	"io"
	"log/slog"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/media"
	"github.com/UkralStul/yatube/internal/notify"
	"github.com/UkralStul/yatube/internal/pagecache"
	"github.com/UkralStul/yatube/internal/paginate"
	"github.com/UkralStul/yatube/internal/storage"
)

// PostInput is the author-editable part of a post.
type PostInput struct {
	Text    string
	GroupID *int64
	// Image, when set, is the raw upload. It is validated before anything is written.
	Image io.Reader
}

// Profile is an author's page.
type Profile struct {
	Author    *domain.Author
	PostCount int64
	Following bool
	Posts     paginate.Page[*domain.Post]
}

// PostDetail is a single post with its author and comments.
type PostDetail struct {
	Post      *domain.Post
	Author    *domain.Author
	PostCount int64
	Comments  []*domain.Comment
}

type Service struct {
	store    storage.Storage
	pages    *pagecache.PageCache
	hub      *notify.Hub
	media    *media.Store
	logger   *slog.Logger
	pageSize int
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifications pushes new posts to followers' live feeds.
func WithNotifications(hub *notify.Hub) Option {
	return func(s *Service) { s.hub = hub }
}

// WithMedia enables image uploads.
func WithMedia(store *media.Store) Option {
	return func(s *Service) { s.media = store }
}

// WithPageSize overrides paginate.DefaultSize.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewService(store storage.Storage, pages *pagecache.PageCache, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pages == nil {
		pages = pagecache.New(nil, 0, logger)
	}
	s := &Service{store: store, pages: pages, logger: logger, pageSize: paginate.DefaultSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying entity store.
func (s *Service) Store() storage.Storage { return s.store }

// Pages exposes the page cache guarding the list views.
func (s *Service) Pages() *pagecache.PageCache { return s.pages }

// === Listings ===

func (s *Service) Index(ctx context.Context, page int) (paginate.Page[*domain.Post], error) {
	return paginate.Fetch(page, s.pageSize, func(args storage.PaginationArgs) ([]*domain.Post, int64, error) {
		return s.store.AllPosts(ctx, args)
	})
}

func (s *Service) Group(ctx context.Context, slug string, page int) (*domain.Group, paginate.Page[*domain.Post], error) {
	group, err := s.store.GetGroupBySlug(ctx, slug)
	if err != nil {
		return nil, paginate.Page[*domain.Post]{}, err
	}
	posts, err := paginate.Fetch(page, s.pageSize, func(args storage.PaginationArgs) ([]*domain.Post, int64, error) {
		return s.store.PostsByGroup(ctx, group.ID, args)
	})
	return group, posts, err
}

// Profile lists username's posts. viewer may be nil.
func (s *Service) Profile(ctx context.Context, username string, viewer *domain.Author, page int) (*Profile, error) {
	author, err := s.store.GetAuthorByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	posts, err := paginate.Fetch(page, s.pageSize, func(args storage.PaginationArgs) ([]*domain.Post, int64, error) {
		return s.store.PostsByAuthor(ctx, author.ID, args)
	})
	if err != nil {
		return nil, err
	}
	profile := &Profile{Author: author, PostCount: posts.Total, Posts: posts}
	if viewer != nil && viewer.ID != author.ID {
		if profile.Following, err = s.store.IsFollowing(ctx, viewer.ID, author.ID); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// Feed lists posts by the authors follower follows. Feed pages are never
// cached: they differ per reader and must reflect the store as it is now.
func (s *Service) Feed(ctx context.Context, follower *domain.Author, page int) (paginate.Page[*domain.Post], error) {
	return paginate.Fetch(page, s.pageSize, func(args storage.PaginationArgs) ([]*domain.Post, int64, error) {
		return s.store.FeedPosts(ctx, follower.ID, args)
	})
}

// Post loads postID, which must belong to username.
func (s *Service) Post(ctx context.Context, username string, postID int64) (*PostDetail, error) {
	author, post, err := s.authoredPost(ctx, username, postID)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountPostsByAuthor(ctx, author.ID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.GetCommentsByPostID(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	return &PostDetail{Post: post, Author: author, PostCount: count, Comments: comments}, nil
}

func (s *Service) authoredPost(ctx context.Context, username string, postID int64) (*domain.Author, *domain.Post, error) {
	author, err := s.store.GetAuthorByUsername(ctx, username)
	if err != nil {
		return nil, nil, err
	}
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	if post.AuthorID != author.ID {
		return nil, nil, domain.NotFoundf("post %d by %q", postID, username)
	}
	return author, post, nil
}

// === Authoring ===

// CreatePost publishes a post by author. The page cache is cleared and
// followers with a live feed are notified before it returns.
func (s *Service) CreatePost(ctx context.Context, author *domain.Author, in PostInput) (*domain.Post, error) {
	if err := domain.ValidatePostText(in.Text); err != nil {
		return nil, err
	}
	if err := s.checkGroup(ctx, in.GroupID); err != nil {
		return nil, err
	}
	image, err := s.saveImage(in.Image)
	if err != nil {
		return nil, err
	}

	post, err := s.store.CreatePost(ctx, &domain.Post{
		Text:     in.Text,
		AuthorID: author.ID,
		GroupID:  in.GroupID,
		Image:    image,
	})
	if err != nil {
		s.discardImage(image)
		return nil, err
	}

	s.pages.Invalidate(ctx)
	s.logger.Info("post created", "post_id", post.ID, "author", author.Username)
	s.notifyFollowers(ctx, post)
	return post, nil
}

// EditPost rewrites a post. Only its author may edit it; anyone else gets
// domain.ErrForbidden and the post is left untouched.
func (s *Service) EditPost(ctx context.Context, editor *domain.Author, username string, postID int64, in PostInput) (*domain.Post, error) {
	_, post, err := s.authoredPost(ctx, username, postID)
	if err != nil {
		return nil, err
	}
	if editor == nil || editor.ID != post.AuthorID {
		return nil, domain.Forbiddenf("only the author can edit post %d", postID)
	}
	if err := domain.ValidatePostText(in.Text); err != nil {
		return nil, err
	}
	if err := s.checkGroup(ctx, in.GroupID); err != nil {
		return nil, err
	}
	image, err := s.saveImage(in.Image)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdatePost(ctx, post.ID, domain.PostUpdate{Text: in.Text, GroupID: in.GroupID, Image: image})
	if err != nil {
		s.discardImage(image)
		return nil, err
	}
	if image != nil && post.Image != nil {
		s.discardImage(post.Image)
	}

	s.pages.Invalidate(ctx)
	s.logger.Info("post edited", "post_id", post.ID, "author", editor.Username)
	return updated, nil
}

// DeletePost removes a post by its author. Comments on it are kept.
func (s *Service) DeletePost(ctx context.Context, editor *domain.Author, username string, postID int64) error {
	_, post, err := s.authoredPost(ctx, username, postID)
	if err != nil {
		return err
	}
	if editor == nil || editor.ID != post.AuthorID {
		return domain.Forbiddenf("only the author can delete post %d", postID)
	}
	if err := s.store.DeletePost(ctx, post.ID); err != nil {
		return err
	}
	s.discardImage(post.Image)

	s.pages.Invalidate(ctx)
	s.logger.Info("post deleted", "post_id", post.ID, "author", editor.Username)
	return nil
}

func (s *Service) checkGroup(ctx context.Context, groupID *int64) error {
	if groupID == nil {
		return nil
	}
	_, err := s.store.GetGroupByID(ctx, *groupID)
	return err
}

func (s *Service) saveImage(r io.Reader) (*string, error) {
	if r == nil {
		return nil, nil
	}
	if s.media == nil {
		return nil, domain.Validationf("image uploads are disabled")
	}
	key, err := s.media.Save(r)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *Service) discardImage(key *string) {
	if key == nil || s.media == nil {
		return
	}
	if err := s.media.Remove(*key); err != nil {
		s.logger.Warn("failed to remove image", "key", *key, "error", err)
	}
}

func (s *Service) notifyFollowers(ctx context.Context, post *domain.Post) {
	if s.hub == nil {
		return
	}
	followers, err := s.store.FollowerIDs(ctx, post.AuthorID)
	if err != nil {
		s.logger.Warn("failed to load followers for live feed", "post_id", post.ID, "error", err)
		return
	}
	s.hub.Publish(post, followers)
}

// === Comments ===

func (s *Service) AddComment(ctx context.Context, author *domain.Author, username string, postID int64, text string) (*domain.Comment, error) {
	_, post, err := s.authoredPost(ctx, username, postID)
	if err != nil {
		return nil, err
	}
	return s.store.CreateComment(ctx, &domain.Comment{PostID: &post.ID, AuthorID: author.ID, Text: text})
}

// === Follows ===

func (s *Service) Follow(ctx context.Context, follower *domain.Author, username string) (*domain.Follow, error) {
	followee, err := s.store.GetAuthorByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.store.CreateFollow(ctx, follower.ID, followee.ID)
}

// Unfollow removes the follow edge. Unfollowing someone not followed is not an error.
func (s *Service) Unfollow(ctx context.Context, follower *domain.Author, username string) error {
	followee, err := s.store.GetAuthorByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.store.DeleteFollow(ctx, follower.ID, followee.ID)
}

// === Administration ===

func (s *Service) CreateGroup(ctx context.Context, title, slug, description string) (*domain.Group, error) {
	return s.store.CreateGroup(ctx, &domain.Group{Title: title, Slug: slug, Description: description})
}

func (s *Service) Groups(ctx context.Context) ([]*domain.Group, error) {
	return s.store.ListGroups(ctx)
}

// DeleteGroup removes a group; its posts stay, without a group.
func (s *Service) DeleteGroup(ctx context.Context, slug string) error {
	group, err := s.store.GetGroupBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeleteGroup(ctx, group.ID); err != nil {
		return err
	}
	s.pages.Invalidate(ctx)
	return nil
}

// DeleteAuthor removes an author with everything they wrote.
func (s *Service) DeleteAuthor(ctx context.Context, username string) error {
	author, err := s.store.GetAuthorByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAuthor(ctx, author.ID); err != nil {
		return err
	}
	s.pages.Invalidate(ctx)
	return nil
}
