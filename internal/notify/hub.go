// Package notify fans new posts out to the live feeds of the author's followers.
package notify

import (
	"sync"

	"github.com/UkralStul/yatube/internal/domain"

	"github.com/google/uuid"
)

const subscriberBuffer = 16

// Hub keeps the live subscriptions, keyed by the subscribing author.
type Hub struct {
	mu sync.RWMutex
	//   map[authorID] map[subscriptionID] channel
	subs map[int64]map[string]chan *domain.Post
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[string]chan *domain.Post)}
}

// Subscribe registers a live feed for authorID. The returned cancel func
// removes the subscription and closes the channel.
func (h *Hub) Subscribe(authorID int64) (<-chan *domain.Post, func()) {
	ch := make(chan *domain.Post, subscriberBuffer)
	subID := uuid.NewString()

	h.mu.Lock()
	if h.subs[authorID] == nil {
		h.subs[authorID] = make(map[string]chan *domain.Post)
	}
	h.subs[authorID][subID] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if authorSubs, ok := h.subs[authorID]; ok {
				delete(authorSubs, subID)
				if len(authorSubs) == 0 {
					delete(h.subs, authorID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers post to every live subscription of the given followers.
// Slow subscribers miss the post rather than block the writer.
func (h *Hub) Publish(post *domain.Post, followerIDs []int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, id := range followerIDs {
		for _, ch := range h.subs[id] {
			p := *post
			select {
			case ch <- &p:
				delivered++
			default:
			}
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions for authorID.
func (h *Hub) Subscribers(authorID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[authorID])
}
