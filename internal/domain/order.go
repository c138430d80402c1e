package domain

import "sort"

// PostNewerFirst reports whether a sorts before b in listings:
// newest first, ties in insertion order.
func PostNewerFirst(a, b *Post) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SortPosts orders posts for listing in place.
func SortPosts(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return PostNewerFirst(posts[i], posts[j])
	})
}

// SortComments orders comments oldest first in place.
func SortComments(comments []*Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		a, b := comments[i], comments[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
