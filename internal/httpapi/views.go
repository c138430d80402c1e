package httpapi

import (
	"context"
	"time"

	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/dataloader"
	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/paginate"
)

type postView struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	GroupID   *int64    `json:"groupId,omitempty"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type commentView struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type groupPage struct {
	Group *domain.Group           `json:"group"`
	Posts paginate.Page[postView] `json:"posts"`
}

type profilePage struct {
	Author    string                  `json:"author"`
	PostCount int64                   `json:"postCount"`
	Following bool                    `json:"following"`
	Posts     paginate.Page[postView] `json:"posts"`
}

type postPage struct {
	Post      postView      `json:"post"`
	PostCount int64         `json:"postCount"`
	Comments  []commentView `json:"comments"`
}

// usernames resolves author IDs through the request's batched loader.
func (h *handler) usernames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	authors, err := dataloader.Authors(ctx, h.blog.Store(), ids)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(authors))
	for id, a := range authors {
		names[id] = a.Username
	}
	return names, nil
}

func (h *handler) postViews(ctx context.Context, page paginate.Page[*domain.Post]) (paginate.Page[postView], error) {
	ids := make([]int64, len(page.Items))
	for i, p := range page.Items {
		ids[i] = p.AuthorID
	}
	names, err := h.usernames(ctx, ids)
	if err != nil {
		return paginate.Page[postView]{}, err
	}
	return paginate.Map(page, func(p *domain.Post) postView { return newPostView(p, names[p.AuthorID]) }), nil
}

func (h *handler) detailView(ctx context.Context, d *blog.PostDetail) (postPage, error) {
	ids := make([]int64, len(d.Comments))
	for i, c := range d.Comments {
		ids[i] = c.AuthorID
	}
	names, err := h.usernames(ctx, ids)
	if err != nil {
		return postPage{}, err
	}
	comments := make([]commentView, len(d.Comments))
	for i, c := range d.Comments {
		comments[i] = commentView{ID: c.ID, Author: names[c.AuthorID], Text: c.Text, CreatedAt: c.CreatedAt}
	}
	return postPage{Post: newPostView(d.Post, d.Author.Username), PostCount: d.PostCount, Comments: comments}, nil
}

func newPostView(p *domain.Post, author string) postView {
	v := postView{ID: p.ID, Text: p.Text, Author: author, GroupID: p.GroupID, CreatedAt: p.CreatedAt}
	if p.Image != nil {
		v.Image = "/media/" + *p.Image
	}
	return v
}
