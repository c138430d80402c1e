package httpapi

import (
	"net/http"
	"time"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/domain"

	"github.com/gorilla/websocket"
)

// liveFeed streams posts by the followed authors over a websocket as they are
// published. The subscription is in place before the handshake completes.
func (h *handler) liveFeed(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "live feed is disabled"})
		return
	}
	author := auth.AuthorFrom(r.Context())
	feed, cancel := h.hub.Subscribe(author.ID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "author", author.Username, "error", err)
		return
	}
	defer conn.Close()
	h.logger.Debug("live feed connected", "author", author.Username, "subscriptions", h.hub.Subscribers(author.ID))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case post, ok := <-feed:
			if !ok {
				return
			}
			if err := h.sendPost(r, conn, post); err != nil {
				h.logger.Debug("live feed write failed", "author", author.Username, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *handler) sendPost(r *http.Request, conn *websocket.Conn, post *domain.Post) error {
	names, err := h.usernames(r.Context(), []int64{post.AuthorID})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(newPostView(post, names[post.AuthorID]))
}
