package storage

import (
	"context"

	"github.com/UkralStul/yatube/internal/domain"
)

// PaginationArgs selects a window of a listing.
type PaginationArgs struct {
	Limit  int
	Offset int
}

// Storage defines the contract for the entity stores.
//
// Post listings are ordered newest first with ties broken by ID ascending and
// return the total number of matching posts alongside the requested window.
type Storage interface {
	CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error)
	GetAuthorByID(ctx context.Context, id int64) (*domain.Author, error)
	GetAuthorByUsername(ctx context.Context, username string) (*domain.Author, error)
	DeleteAuthor(ctx context.Context, id int64) error

	CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error)
	GetGroupBySlug(ctx context.Context, slug string) (*domain.Group, error)
	GetGroupByID(ctx context.Context, id int64) (*domain.Group, error)
	ListGroups(ctx context.Context) ([]*domain.Group, error)
	DeleteGroup(ctx context.Context, id int64) error

	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	GetPostByID(ctx context.Context, id int64) (*domain.Post, error)
	UpdatePost(ctx context.Context, id int64, upd domain.PostUpdate) (*domain.Post, error)
	DeletePost(ctx context.Context, id int64) error
	CountPostsByAuthor(ctx context.Context, authorID int64) (int64, error)

	AllPosts(ctx context.Context, args PaginationArgs) ([]*domain.Post, int64, error)
	PostsByAuthor(ctx context.Context, authorID int64, args PaginationArgs) ([]*domain.Post, int64, error)
	PostsByGroup(ctx context.Context, groupID int64, args PaginationArgs) ([]*domain.Post, int64, error)
	// FeedPosts lists posts by every author the follower follows.
	FeedPosts(ctx context.Context, followerID int64, args PaginationArgs) ([]*domain.Post, int64, error)

	CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	GetCommentByID(ctx context.Context, id int64) (*domain.Comment, error)
	GetCommentsByPostID(ctx context.Context, postID int64) ([]*domain.Comment, error)

	CreateFollow(ctx context.Context, followerID, followeeID int64) (*domain.Follow, error)
	DeleteFollow(ctx context.Context, followerID, followeeID int64) error
	IsFollowing(ctx context.Context, followerID, followeeID int64) (bool, error)
	FollowerIDs(ctx context.Context, followeeID int64) ([]int64, error)
	CountFollows(ctx context.Context) (int64, error)

	// Methods for the dataloader
	GetAuthorsByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Author, error)
}

// Window clamps args against a slice of length n and returns the bounds.
func Window(n int, args PaginationArgs) (start, end int) {
	start = args.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = n
	if args.Limit > 0 && start+args.Limit < n {
		end = start + args.Limit
	}
	return start, end
}
