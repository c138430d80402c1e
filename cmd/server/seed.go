package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/domain"
)

const seedPassword = "password"

// fillWithMockData creates a couple of authors, groups, posts and a follow so
// a fresh server has something to show. A store that already holds the demo
// authors is left alone.
func fillWithMockData(ctx context.Context, svc *blog.Service, authSvc *auth.Service, log *slog.Logger) error {
	leo, _, err := authSvc.Register(ctx, "leo", seedPassword)
	if errors.Is(err, domain.ErrConflict) {
		log.Info("demo data already present")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create author leo: %w", err)
	}
	anna, _, err := authSvc.Register(ctx, "anna", seedPassword)
	if err != nil {
		return fmt.Errorf("create author anna: %w", err)
	}

	books, err := svc.CreateGroup(ctx, "Books", "books", "What we are reading")
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	if _, err := svc.CreateGroup(ctx, "Travel", "travel", "Notes from the road"); err != nil {
		return fmt.Errorf("create group: %w", err)
	}

	first, err := svc.CreatePost(ctx, leo, blog.PostInput{
		Text:    "Finished War and Peace. The battle chapters are better than I remembered.",
		GroupID: &books.ID,
	})
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	if _, err := svc.CreatePost(ctx, anna, blog.PostInput{Text: "First post here, hello everyone."}); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	if _, err := svc.AddComment(ctx, anna, leo.Username, first.ID, "Now try Anna Karenina."); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	if _, err := svc.Follow(ctx, anna, leo.Username); err != nil {
		return fmt.Errorf("create follow: %w", err)
	}

	log.Info("demo data filled", "authors", []string{leo.Username, anna.Username}, "password", seedPassword)
	return nil
}
