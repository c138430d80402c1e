package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/UkralStul/yatube/internal/auth"
	"github.com/UkralStul/yatube/internal/blog"
	"github.com/UkralStul/yatube/internal/domain"
	"github.com/UkralStul/yatube/internal/media"
	"github.com/UkralStul/yatube/internal/paginate"

	"github.com/go-chi/chi/v5"
)

// multipartOverhead leaves room for the form fields next to the image part.
const multipartOverhead = 1 << 20

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type postForm struct {
	Text    string `json:"text"`
	GroupID *int64 `json:"group"`
}

type commentForm struct {
	Text string `json:"text"`
}

type groupForm struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// === Auth ===

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	_, tokens, err := h.auth.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokens)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	_, tokens, err := h.auth.Login(r.Context(), in.Username, in.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// === Listings ===

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	posts, err := h.blog.Index(r.Context(), requestedPage(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.postViews(r.Context(), posts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) group(w http.ResponseWriter, r *http.Request) {
	group, posts, err := h.blog.Group(r.Context(), chi.URLParam(r, "slug"), requestedPage(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.postViews(r.Context(), posts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groupPage{Group: group, Posts: view})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	viewer := auth.AuthorFrom(r.Context())
	profile, err := h.blog.Profile(r.Context(), chi.URLParam(r, "username"), viewer, requestedPage(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.postViews(r.Context(), profile.Posts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profilePage{
		Author:    profile.Author.Username,
		PostCount: profile.PostCount,
		Following: profile.Following,
		Posts:     view,
	})
}

func (h *handler) feed(w http.ResponseWriter, r *http.Request) {
	posts, err := h.blog.Feed(r.Context(), auth.AuthorFrom(r.Context()), requestedPage(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.postViews(r.Context(), posts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) post(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detail, err := h.blog.Post(r.Context(), chi.URLParam(r, "username"), postID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.detailView(r.Context(), detail)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// === Authoring ===

func (h *handler) createPost(w http.ResponseWriter, r *http.Request) {
	author := auth.AuthorFrom(r.Context())
	in, err := h.readPost(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	post, err := h.blog.CreatePost(r.Context(), author, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPostView(post, author.Username))
}

func (h *handler) editPost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := h.readPost(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	username := chi.URLParam(r, "username")
	post, err := h.blog.EditPost(r.Context(), auth.AuthorFrom(r.Context()), username, postID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPostView(post, username))
}

func (h *handler) deletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	err = h.blog.DeletePost(r.Context(), auth.AuthorFrom(r.Context()), chi.URLParam(r, "username"), postID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) addComment(w http.ResponseWriter, r *http.Request) {
	postID, err := postIDParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in commentForm
	if isJSON(r) {
		if err := decodeJSON(r, &in); err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		in.Text = r.FormValue("text")
	}
	author := auth.AuthorFrom(r.Context())
	comment, err := h.blog.AddComment(r.Context(), author, chi.URLParam(r, "username"), postID, in.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentView{
		ID:        comment.ID,
		Author:    author.Username,
		Text:      comment.Text,
		CreatedAt: comment.CreatedAt,
	})
}

// === Follows ===

func (h *handler) follow(w http.ResponseWriter, r *http.Request) {
	follow, err := h.blog.Follow(r.Context(), auth.AuthorFrom(r.Context()), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, follow)
}

func (h *handler) unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.blog.Unfollow(r.Context(), auth.AuthorFrom(r.Context()), chi.URLParam(r, "username")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Administration ===

func (h *handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.blog.Groups(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var in groupForm
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	group, err := h.blog.CreateGroup(r.Context(), in.Title, in.Slug, in.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (h *handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.blog.DeleteGroup(r.Context(), chi.URLParam(r, "slug")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteAuthor removes an account. Authors may delete themselves, admins anyone.
func (h *handler) deleteAuthor(w http.ResponseWriter, r *http.Request) {
	viewer := auth.AuthorFrom(r.Context())
	username := chi.URLParam(r, "username")
	if viewer.Username != username && !h.isAdmin(viewer) {
		h.writeError(w, r, domain.Forbiddenf("cannot delete author %q", username))
		return
	}
	if err := h.blog.DeleteAuthor(r.Context(), username); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// === Request decoding ===

// readPost accepts a JSON body or a multipart form with text, group and an
// optional image file.
func (h *handler) readPost(w http.ResponseWriter, r *http.Request) (blog.PostInput, error) {
	if isJSON(r) {
		var form postForm
		if err := decodeJSON(r, &form); err != nil {
			return blog.PostInput{}, err
		}
		return blog.PostInput{Text: form.Text, GroupID: form.GroupID}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(media.MaxUploadSize + multipartOverhead); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return blog.PostInput{}, domain.Validationf("malformed form: %v", err)
	}
	in := blog.PostInput{Text: r.FormValue("text")}
	if raw := strings.TrimSpace(r.FormValue("group")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return blog.PostInput{}, domain.Validationf("group must be an id")
		}
		in.GroupID = &id
	}

	file, _, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		return blog.PostInput{}, domain.Validationf("read image: %v", err)
	default:
		in.Image = file
	}
	return in, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverhead)).Decode(v); err != nil {
		return domain.Validationf("malformed JSON body: %v", err)
	}
	return nil
}

func requestedPage(r *http.Request) int {
	return paginate.Requested(r.URL.Query().Get("page"))
}

// postIDParam reads {postID}. Anything that is not a number cannot name a post.
func postIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "postID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NotFoundf("post %q", raw)
	}
	return id, nil
}
