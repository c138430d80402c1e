package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/cache"
	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/media"
	"github.com/UkralStul/yatube/internal/notify"
	"github.com/UkralStul/yatube/internal/pagecache"
	"github.com/UkralStul/yatube/internal/paginate"
	"github.com/UkralStul/yatube/internal/storage/inmemory"
	"github.com/UkralStul/yatube/internal/storage/storagetest"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t      *testing.T
	router http.Handler
	svc    *blog.Service
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pages := pagecache.New(cache.NewMemoryWithClock(func() time.Time { return frozen }), pagecache.DefaultTTL, logger)
	store := inmemory.NewWithClock(storagetest.NewClock().Now)
	hub := notify.NewHub()
	mediaStore := media.NewStore(t.TempDir())
	svc := blog.NewService(store, pages, logger, blog.WithNotifications(hub), blog.WithMedia(mediaStore))

	router := NewRouter(Deps{
		Blog:   svc,
		Auth:   auth.NewService("test-secret", store),
		Hub:    hub,
		Media:  mediaStore,
		Logger: logger,
		Admins: []string{"admin"},
	})
	return &testAPI{t: t, router: router, svc: svc, tokens: map[string]string{}}
}

func (a *testAPI) do(method, path, user string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[user])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) json(method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	return a.do(method, path, user, &buf, "application/json")
}

func (a *testAPI) signup(name string) {
	rec := a.json(http.MethodPost, "/auth/signup", "", credentials{Username: name, Password: "secret-" + name})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var tokens auth.TokenResponse
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	a.tokens[name] = tokens.AccessToken
}

func (a *testAPI) createPost(user, text string) postView {
	rec := a.json(http.MethodPost, "/new", user, map[string]any{"text": text})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var view postView
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) paginate.Page[postView] {
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page paginate.Page[postView]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func texts(page paginate.Page[postView]) []string {
	out := make([]string, len(page.Items))
	for i, p := range page.Items {
		out[i] = p.Text
	}
	return out
}

func TestIndex_EditInvalidatesCache(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	post := api.createPost("alice", "hello")
	assert.Equal(t, "alice", post.Author)

	rec := api.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get(pagecache.CacheHeader))
	assert.Equal(t, []string{"hello"}, texts(decodePage(t, rec)))

	rec = api.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, "HIT", rec.Header().Get(pagecache.CacheHeader))

	rec = api.json(http.MethodPost, fmt.Sprintf("/alice/%d/edit", post.ID), "alice", map[string]any{"text": "hello v2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get(pagecache.CacheHeader))
	assert.Equal(t, []string{"hello v2"}, texts(decodePage(t, rec)))
}

func TestEditPost_NonAuthorForbidden(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	api.signup("bob")
	post := api.createPost("alice", "hello")

	rec := api.json(http.MethodPost, fmt.Sprintf("/alice/%d/edit", post.ID), "bob", map[string]any{"text": "mine now"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodDelete, fmt.Sprintf("/alice/%d", post.ID), "bob", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.json(http.MethodPost, fmt.Sprintf("/alice/%d/edit", post.ID), "", map[string]any{"text": "anon"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, fmt.Sprintf("/alice/%d", post.ID), "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail postPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "hello", detail.Post.Text)
}

func TestFeed(t *testing.T) {
	api := newTestAPI(t)
	for _, name := range []string{"alice", "bob", "carol"} {
		api.signup(name)
	}

	rec := api.do(http.MethodPost, "/alice/follow", "bob", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = api.do(http.MethodPost, "/alice/follow", "bob", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = api.do(http.MethodPost, "/bob/follow", "bob", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	api.createPost("alice", "new text")

	assert.Equal(t, []string{"new text"}, texts(decodePage(t, api.do(http.MethodGet, "/follow", "bob", nil, ""))))
	assert.Empty(t, decodePage(t, api.do(http.MethodGet, "/follow", "carol", nil, "")).Items)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/follow", "", nil, "").Code)

	rec = api.do(http.MethodGet, "/alice", "bob", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var profile profilePage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.True(t, profile.Following)
	assert.EqualValues(t, 1, profile.PostCount)

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/alice/unfollow", "bob", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, api.do(http.MethodPost, "/alice/unfollow", "bob", nil, "").Code)
	assert.Empty(t, decodePage(t, api.do(http.MethodGet, "/follow", "bob", nil, "")).Items)
}

func TestProfile_AnonymousViewsAreCached(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	api.signup("bob")
	api.createPost("alice", "hello")

	assert.Equal(t, "MISS", api.do(http.MethodGet, "/alice", "", nil, "").Header().Get(pagecache.CacheHeader))
	assert.Equal(t, "HIT", api.do(http.MethodGet, "/alice", "", nil, "").Header().Get(pagecache.CacheHeader))
	assert.Empty(t, api.do(http.MethodGet, "/alice", "bob", nil, "").Header().Get(pagecache.CacheHeader))
}

func TestPagination(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	for i := 0; i < 12; i++ {
		api.createPost("alice", fmt.Sprintf("post %d", i))
	}

	first := decodePage(t, api.do(http.MethodGet, "/?page=abc", "", nil, ""))
	assert.Equal(t, 1, first.Number)
	assert.Len(t, first.Items, 10)
	assert.Equal(t, "post 11", first.Items[0].Text)

	last := decodePage(t, api.do(http.MethodGet, "/?page=99", "", nil, ""))
	assert.Equal(t, 2, last.Number)
	assert.Equal(t, []string{"post 1", "post 0"}, texts(last))
}

func TestCommentsSurvivePostDeletion(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	api.signup("bob")
	post := api.createPost("alice", "hello")

	rec := api.json(http.MethodPost, fmt.Sprintf("/alice/%d/comment", post.ID), "bob", commentForm{Text: "nice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var comment commentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comment))

	rec = api.json(http.MethodPost, fmt.Sprintf("/alice/%d/comment", post.ID), "bob", commentForm{Text: strings.Repeat("x", domain.MaxCommentLength+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, fmt.Sprintf("/alice/%d", post.ID), "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail postPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Comments, 1)
	assert.Equal(t, "bob", detail.Comments[0].Author)

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, fmt.Sprintf("/alice/%d", post.ID), "alice", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, fmt.Sprintf("/alice/%d", post.ID), "", nil, "").Code)

	stored, err := api.svc.Store().GetCommentByID(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PostID)
}

func multipartPost(t *testing.T, text string, image []byte) (*bytes.Buffer, string) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("text", text))
	if image != nil {
		part, err := mw.CreateFormFile("image", "upload.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestCreatePost_Multipart(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")

	body, contentType := multipartPost(t, "broken", []byte("definitely not a png"))
	rec := api.do(http.MethodPost, "/new", "alice", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, decodePage(t, api.do(http.MethodGet, "/", "", nil, "")).Items)

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2))))
	body, contentType = multipartPost(t, "with picture", img.Bytes())
	rec = api.do(http.MethodPost, "/new", "alice", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view postView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, strings.HasPrefix(view.Image, "/media/posts/"))

	served := api.do(http.MethodGet, view.Image, "", nil, "")
	assert.Equal(t, http.StatusOK, served.Code)
	assert.Equal(t, img.Bytes(), served.Body.Bytes())

	assert.Equal(t, []string{"with picture"}, texts(decodePage(t, api.do(http.MethodGet, "/", "", nil, ""))))
}

func TestErrors(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown group", http.MethodGet, "/group/nope", http.StatusNotFound},
		{"unknown author", http.MethodGet, "/nobody", http.StatusNotFound},
		{"non-numeric post", http.MethodGet, "/alice/abc", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/a/b/c/d", http.StatusNotFound},
		{"health", http.MethodGet, "/health", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(tc.method, tc.path, "", nil, "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := api.json(http.MethodPost, "/auth/signup", "", credentials{Username: "alice", Password: "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = api.json(http.MethodPost, "/auth/login", "", credentials{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.json(http.MethodPost, "/auth/login", "", credentials{Username: "alice", Password: "secret-alice"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.json(http.MethodPost, "/new", "alice", map[string]any{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupListing(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	group, err := api.svc.CreateGroup(context.Background(), "Cats", "cats", "")
	require.NoError(t, err)

	rec := api.json(http.MethodPost, "/new", "alice", map[string]any{"text": "meow", "group": group.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	api.createPost("alice", "elsewhere")

	rec = api.do(http.MethodGet, "/group/cats", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page groupPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "cats", page.Group.Slug)
	assert.Equal(t, []string{"meow"}, texts(page.Posts))
}

func TestLiveFeed(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	api.signup("bob")
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/alice/follow", "bob", nil, "").Code)

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/feed?access_token=" + api.tokens["bob"]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	api.createPost("alice", "live text")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var view postView
	require.NoError(t, conn.ReadJSON(&view))
	assert.Equal(t, "live text", view.Text)
	assert.Equal(t, "alice", view.Author)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/feed", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGroupAdministration(t *testing.T) {
	api := newTestAPI(t)
	api.signup("admin")
	api.signup("alice")

	form := groupForm{Title: "Cats", Slug: "cats", Description: "all about cats"}
	assert.Equal(t, http.StatusUnauthorized, api.json(http.MethodPost, "/groups", "", form).Code)
	assert.Equal(t, http.StatusForbidden, api.json(http.MethodPost, "/groups", "alice", form).Code)

	rec := api.json(http.MethodPost, "/groups", "admin", form)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group domain.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &group))
	assert.Equal(t, "cats", group.Slug)
	assert.Equal(t, http.StatusConflict, api.json(http.MethodPost, "/groups", "admin", form).Code)

	rec = api.do(http.MethodGet, "/groups", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups []domain.Group
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "Cats", groups[0].Title)

	rec = api.json(http.MethodPost, "/new", "alice", map[string]any{"text": "meow", "group": group.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", api.do(http.MethodGet, "/", "", nil, "").Header().Get(pagecache.CacheHeader))
	assert.Equal(t, "HIT", api.do(http.MethodGet, "/", "", nil, "").Header().Get(pagecache.CacheHeader))

	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, "/group/cats", "alice", nil, "").Code)
	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/group/cats", "admin", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/group/cats", "admin", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/group/cats", "", nil, "").Code)

	rec = api.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get(pagecache.CacheHeader))
	page := decodePage(t, rec)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "meow", page.Items[0].Text)
	assert.Nil(t, page.Items[0].GroupID)
}

func TestDeleteAuthor(t *testing.T) {
	api := newTestAPI(t)
	for _, name := range []string{"admin", "alice", "bob"} {
		api.signup(name)
	}
	api.createPost("alice", "by alice")
	api.createPost("bob", "by bob")
	assert.Equal(t, []string{"by bob", "by alice"}, texts(decodePage(t, api.do(http.MethodGet, "/", "", nil, ""))))

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodDelete, "/alice", "", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, api.do(http.MethodDelete, "/alice", "bob", nil, "").Code)

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/alice", "alice", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/alice", "", nil, "").Code)

	rec := api.do(http.MethodGet, "/", "", nil, "")
	assert.Equal(t, "MISS", rec.Header().Get(pagecache.CacheHeader))
	assert.Equal(t, []string{"by bob"}, texts(decodePage(t, rec)))

	require.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, "/bob", "admin", nil, "").Code)
	assert.Empty(t, decodePage(t, api.do(http.MethodGet, "/", "", nil, "")).Items)
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodDelete, "/nobody", "admin", nil, "").Code)
}

func TestPublicPages_BadTokenServedAnonymously(t *testing.T) {
	api := newTestAPI(t)
	api.signup("alice")
	api.createPost("alice", "hello")
	api.tokens["mallory"] = "not-a-token"

	rec := api.do(http.MethodGet, "/", "mallory", nil, "")
	assert.Equal(t, []string{"hello"}, texts(decodePage(t, rec)))
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/alice", "mallory", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/follow", "mallory", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, api.json(http.MethodPost, "/new", "mallory", map[string]any{"text": "x"}).Code)
}
