package inmemory

import (
	"sort"

	"github.com/UkralStul/yatube/internal/domain"
)

func clonePost(p *domain.Post) *domain.Post {
	out := *p
	out.GroupID = cloneInt(p.GroupID)
	out.Image = cloneString(p.Image)
	return &out
}

func cloneComment(c *domain.Comment) *domain.Comment {
	out := *c
	out.PostID = cloneInt(c.PostID)
	return &out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func sortGroups(groups []*domain.Group) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Title < groups[j].Title
	})
}
