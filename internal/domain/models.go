package domain

import "time"

// Author is a registered user who writes posts and comments.
type Author struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username" gorm:"type:varchar(150);not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
}

// Group is a themed collection of posts.
type Group struct {
	ID          int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Title       string `json:"title" gorm:"type:varchar(200);not null"`
	Slug        string `json:"slug" gorm:"type:varchar(100);not null;uniqueIndex"`
	Description string `json:"description" gorm:"type:text;not null"`
}

// Post is a blog entry. CreatedAt and AuthorID never change after creation.
type Post struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index"`
	AuthorID  int64     `json:"authorId" gorm:"not null;index"`
	GroupID   *int64    `json:"groupId,omitempty" gorm:"index"`
	Image     *string   `json:"image,omitempty" gorm:"type:varchar(255)"`
}

// Comment is left by an author on a post. PostID becomes nil when the post is deleted.
type Comment struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PostID    *int64    `json:"postId" gorm:"index"`
	AuthorID  int64     `json:"authorId" gorm:"not null;index"`
	Text      string    `json:"text" gorm:"type:varchar(1000);not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null"`
}

// Follow is a directed subscription of Follower to Followee's posts.
type Follow struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	FollowerID int64     `json:"followerId" gorm:"not null;uniqueIndex:idx_follow_pair"`
	FolloweeID int64     `json:"followeeId" gorm:"not null;uniqueIndex:idx_follow_pair;index"`
	CreatedAt  time.Time `json:"createdAt" gorm:"not null"`
}

// PostUpdate carries the fields an author may change on a post.
// A nil GroupID clears the group; a nil Image keeps the current image.
type PostUpdate struct {
	Text    string
	GroupID *int64
	Image   *string
}

const (
	// MaxCommentLength bounds Comment.Text, counted in characters.
	MaxCommentLength = 1000
	// MaxGroupTitleLength bounds Group.Title.
	MaxGroupTitleLength = 200
	// MaxGroupSlugLength bounds Group.Slug.
	MaxGroupSlugLength = 100
	// MaxUsernameLength bounds Author.Username.
	MaxUsernameLength = 150
)
