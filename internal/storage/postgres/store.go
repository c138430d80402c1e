package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/storage"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const uniqueViolation = "23505"

// Store implements storage.Storage on top of gorm. Production runs it against
// PostgreSQL; any gorm dialector with unique-index support works.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New connects to PostgreSQL and migrates the schema.
func New(dsn string, logLevel logger.LogLevel, opts ...Option) (*Store, error) {
	return Open(postgres.Open(dsn), logLevel, opts...)
}

// Open builds a store over the given dialector and migrates the schema.
func Open(dialector gorm.Dialector, logLevel logger.LogLevel, opts ...Option) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Author{}, &domain.Group{}, &domain.Post{}, &domain.Comment{}, &domain.Follow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ storage.Storage = (*Store)(nil)

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps gorm and driver errors onto the domain sentinels.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFoundf("%s", what)
	case isUniqueViolation(err):
		return domain.Conflictf("%s already exists", what)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	// sqlite reports constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) exists(tx *gorm.DB, model any, id int64) (bool, error) {
	var n int64
	if err := tx.Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// === Author Methods ===

func (s *Store) CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error) {
	if err := domain.ValidateUsername(author.Username); err != nil {
		return nil, err
	}
	a := *author
	a.ID = 0
	a.CreatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("username %q", author.Username))
	}
	return &a, nil
}

func (s *Store) GetAuthorByID(ctx context.Context, id int64) (*domain.Author, error) {
	var a domain.Author
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("author %d", id))
	}
	return &a, nil
}

func (s *Store) GetAuthorByUsername(ctx context.Context, username string) (*domain.Author, error) {
	var a domain.Author
	if err := s.db.WithContext(ctx).First(&a, "username = ?", username).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("author %q", username))
	}
	return &a, nil
}

func (s *Store) GetAuthorsByIDs(ctx context.Context, ids []int64) (map[int64]*domain.Author, error) {
	result := make(map[int64]*domain.Author, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var authors []*domain.Author
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&authors).Error; err != nil {
		return nil, err
	}
	for _, a := range authors {
		result[a.ID] = a
	}
	return result, nil
}

// DeleteAuthor removes the author with their posts, comments and follow edges
// in one transaction. Comments by others on the removed posts are detached.
func (s *Store) DeleteAuthor(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.exists(tx, &domain.Author{}, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("author %d", id)
		}

		if err := tx.Where("author_id = ?", id).Delete(&domain.Comment{}).Error; err != nil {
			return err
		}
		authored := tx.Model(&domain.Post{}).Select("id").Where("author_id = ?", id)
		if err := tx.Model(&domain.Comment{}).Where("post_id IN (?)", authored).Update("post_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", id).Delete(&domain.Post{}).Error; err != nil {
			return err
		}
		if err := tx.Where("follower_id = ? OR followee_id = ?", id, id).Delete(&domain.Follow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Author{}, id).Error
	})
}

// === Group Methods ===

func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	if err := domain.ValidateGroup(group); err != nil {
		return nil, err
	}
	g := *group
	g.ID = 0
	if err := s.db.WithContext(ctx).Create(&g).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("group slug %q", group.Slug))
	}
	return &g, nil
}

func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*domain.Group, error) {
	var g domain.Group
	if err := s.db.WithContext(ctx).First(&g, "slug = ?", slug).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("group %q", slug))
	}
	return &g, nil
}

func (s *Store) GetGroupByID(ctx context.Context, id int64) (*domain.Group, error) {
	var g domain.Group
	if err := s.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("group %d", id))
	}
	return &g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	groups := []*domain.Group{}
	err := s.db.WithContext(ctx).Order("title ASC").Find(&groups).Error
	return groups, err
}

// DeleteGroup removes the group and detaches its posts.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.exists(tx, &domain.Group{}, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("group %d", id)
		}
		if err := tx.Model(&domain.Post{}).Where("group_id = ?", id).Update("group_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Group{}, id).Error
	})
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	if err := domain.ValidatePostText(post.Text); err != nil {
		return nil, err
	}
	p := *post
	p.ID = 0
	p.CreatedAt = s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.exists(tx, &domain.Author{}, p.AuthorID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("author %d", p.AuthorID)
		}
		if p.GroupID != nil {
			ok, err := s.exists(tx, &domain.Group{}, *p.GroupID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundf("group %d", *p.GroupID)
			}
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id int64) (*domain.Post, error) {
	var p domain.Post
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("post %d", id))
	}
	return &p, nil
}

// UpdatePost writes only text, group and image; author_id and created_at are
// never part of the update.
func (s *Store) UpdatePost(ctx context.Context, id int64, upd domain.PostUpdate) (*domain.Post, error) {
	if err := domain.ValidatePostText(upd.Text); err != nil {
		return nil, err
	}

	var post domain.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, "id = ?", id).Error; err != nil {
			return translate(err, fmt.Sprintf("post %d", id))
		}
		if upd.GroupID != nil {
			ok, err := s.exists(tx, &domain.Group{}, *upd.GroupID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundf("group %d", *upd.GroupID)
			}
		}

		fields := map[string]any{
			"text":     upd.Text,
			"group_id": gorm.Expr("NULL"),
		}
		if upd.GroupID != nil {
			fields["group_id"] = *upd.GroupID
		}
		if upd.Image != nil {
			fields["image"] = *upd.Image
		}
		if err := tx.Model(&domain.Post{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}
		return tx.First(&post, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// DeletePost removes the post; its comments stay, detached from the post.
func (s *Store) DeletePost(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.exists(tx, &domain.Post{}, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("post %d", id)
		}
		if err := tx.Model(&domain.Comment{}).Where("post_id = ?", id).Update("post_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Post{}, id).Error
	})
}

func (s *Store) CountPostsByAuthor(ctx context.Context, authorID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Post{}).Where("author_id = ?", authorID).Count(&n).Error
	return n, err
}

// === Listing Methods ===

func (s *Store) AllPosts(ctx context.Context, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	return s.listPosts(ctx, args, func(q *gorm.DB) *gorm.DB { return q })
}

func (s *Store) PostsByAuthor(ctx context.Context, authorID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	return s.listPosts(ctx, args, func(q *gorm.DB) *gorm.DB {
		return q.Where("author_id = ?", authorID)
	})
}

func (s *Store) PostsByGroup(ctx context.Context, groupID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	return s.listPosts(ctx, args, func(q *gorm.DB) *gorm.DB {
		return q.Where("group_id = ?", groupID)
	})
}

// FeedPosts selects posts whose author is among the follower's followees.
func (s *Store) FeedPosts(ctx context.Context, followerID int64, args storage.PaginationArgs) ([]*domain.Post, int64, error) {
	return s.listPosts(ctx, args, func(q *gorm.DB) *gorm.DB {
		followees := s.db.WithContext(ctx).Model(&domain.Follow{}).Select("followee_id").Where("follower_id = ?", followerID)
		return q.Where("author_id IN (?)", followees)
	})
}

func (s *Store) listPosts(ctx context.Context, args storage.PaginationArgs, scope func(*gorm.DB) *gorm.DB) ([]*domain.Post, int64, error) {
	var total int64
	if err := scope(s.db.WithContext(ctx).Model(&domain.Post{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := scope(s.db.WithContext(ctx).Model(&domain.Post{})).Order("created_at DESC, id ASC")
	if args.Limit > 0 {
		query = query.Limit(args.Limit)
	}
	if args.Offset > 0 {
		query = query.Offset(args.Offset)
	}
	posts := []*domain.Post{}
	if err := query.Find(&posts).Error; err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	if err := domain.ValidateCommentText(comment.Text); err != nil {
		return nil, err
	}
	if comment.PostID == nil {
		return nil, domain.Validationf("comment must reference a post")
	}
	c := *comment
	c.ID = 0
	c.CreatedAt = s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.exists(tx, &domain.Post{}, *c.PostID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("post %d", *c.PostID)
		}
		ok, err = s.exists(tx, &domain.Author{}, c.AuthorID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundf("author %d", c.AuthorID)
		}
		return tx.Create(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id int64) (*domain.Comment, error) {
	var c domain.Comment
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("comment %d", id))
	}
	return &c, nil
}

func (s *Store) GetCommentsByPostID(ctx context.Context, postID int64) ([]*domain.Comment, error) {
	comments := []*domain.Comment{}
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	return comments, err
}

// === Follow Methods ===

// CreateFollow inserts the pair. The unique index on (follower_id, followee_id)
// turns a lost race into a conflict rather than a duplicate row.
func (s *Store) CreateFollow(ctx context.Context, followerID, followeeID int64) (*domain.Follow, error) {
	if err := domain.ValidateFollow(followerID, followeeID); err != nil {
		return nil, err
	}
	follow := domain.Follow{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: s.now()}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range []int64{followerID, followeeID} {
			ok, err := s.exists(tx, &domain.Author{}, id)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundf("author %d", id)
			}
		}
		var n int64
		if err := tx.Model(&domain.Follow{}).
			Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.Conflictf("author %d already follows %d", followerID, followeeID)
		}
		return tx.Create(&follow).Error
	})
	if err != nil {
		return nil, translate(err, fmt.Sprintf("follow %d->%d", followerID, followeeID))
	}
	return &follow, nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followeeID int64) error {
	return s.db.WithContext(ctx).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Delete(&domain.Follow{}).Error
}

func (s *Store) IsFollowing(ctx context.Context, followerID, followeeID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Follow{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) FollowerIDs(ctx context.Context, followeeID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&domain.Follow{}).
		Where("followee_id = ?", followeeID).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func (s *Store) CountFollows(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Follow{}).Count(&n).Error
	return n, err
}
