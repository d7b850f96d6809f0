package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/graph"
	"github.com/pagegate/pagegate/internal/core/pages"
	apperrors "github.com/pagegate/pagegate/internal/errors"
	"github.com/pagegate/pagegate/internal/metrics"
)

// DefaultMaxUploadSize bounds multipart bodies when no limit is configured.
const DefaultMaxUploadSize int64 = 1 << 30

// multipartMemory is the part of a multipart body held in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// PageService is the set of page operations exposed over HTTP.
type PageService interface {
	ListPages(ctx context.Context) ([]core.Page, error)
	PageInfo(ctx context.Context, pageID string) (*core.Response, error)
	UpdatePageInfo(ctx context.Context, pageID string, update pages.InfoUpdate) (*core.Response, error)
	PublishPost(ctx context.Context, pageID, message string) (*core.Response, error)
	PublishPhoto(ctx context.Context, pageID string, media pages.Media, caption string) (*core.Response, error)
	PublishVideo(ctx context.Context, pageID string, media pages.Media, description string) (*core.Response, error)
	PublishReel(ctx context.Context, pageID string, media pages.Media, description string) (*graph.UploadResult, error)
	SetAvatar(ctx context.Context, pageID string, media pages.Media) (*core.Response, error)
	SetCover(ctx context.Context, pageID string, media pages.Media) (*core.Response, error)
	ListConversations(ctx context.Context, pageID string) (*core.Response, error)
	GetConversation(ctx context.Context, pageID, threadID string) (*core.Response, error)
	SendMessage(ctx context.Context, pageID, recipientID, text string) (*core.Response, error)
}

var _ PageService = (*pages.Service)(nil)

// PageHandlers serves /api/pages.
type PageHandlers struct {
	Pages         PageService
	MaxUploadSize int64
}

// Routes mounts the page endpoints on r.
func (h *PageHandlers) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Route("/{pageID}", func(r chi.Router) {
		r.Get("/info", h.Info)
		r.Post("/info", h.UpdateInfo)
		r.Post("/post", h.Post)
		r.Post("/photo", h.Photo)
		r.Post("/video", h.Video)
		r.Post("/reel", h.Reel)
		r.Post("/avatar", h.Avatar)
		r.Post("/cover", h.Cover)
		r.Get("/conversations", h.Conversations)
		r.Get("/conversations/{threadID}", h.Conversation)
		r.Post("/messages", h.SendMessage)
	})
}

// pageSummary is what callers see of a page; credentials never leave the gateway.
type pageSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (h *PageHandlers) List(w http.ResponseWriter, r *http.Request) {
	found, err := h.Pages.ListPages(r.Context())
	recordOperation(r, err)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	data := make([]pageSummary, 0, len(found))
	for _, page := range found {
		data = append(data, pageSummary{ID: page.ID, Name: page.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (h *PageHandlers) Info(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Pages.PageInfo(r.Context(), chi.URLParam(r, "pageID"))
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	var update pages.InfoUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	resp, err := h.Pages.UpdatePageInfo(r.Context(), chi.URLParam(r, "pageID"), update)
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Post(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	resp, err := h.Pages.PublishPost(r.Context(), chi.URLParam(r, "pageID"), body.Message)
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Photo(w http.ResponseWriter, r *http.Request) {
	media, closeFn, ok := h.media(w, r, "photo")
	if !ok {
		return
	}
	defer closeFn()
	resp, err := h.Pages.PublishPhoto(r.Context(), chi.URLParam(r, "pageID"), media, r.FormValue("caption"))
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Video(w http.ResponseWriter, r *http.Request) {
	media, closeFn, ok := h.media(w, r, "video")
	if !ok {
		return
	}
	defer closeFn()
	resp, err := h.Pages.PublishVideo(r.Context(), chi.URLParam(r, "pageID"), media, r.FormValue("description"))
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Reel(w http.ResponseWriter, r *http.Request) {
	media, closeFn, ok := h.media(w, r, "video")
	if !ok {
		return
	}
	defer closeFn()
	result, err := h.Pages.PublishReel(r.Context(), chi.URLParam(r, "pageID"), media, r.FormValue("description"))
	recordOperation(r, err)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	body := make(map[string]any, len(result.Body)+2)
	for key, value := range result.Body {
		body[key] = value
	}
	if _, ok := body["video_id"]; !ok {
		body["video_id"] = result.VideoID
	}
	if result.PermalinkURL != "" {
		body["permalink_url"] = result.PermalinkURL
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *PageHandlers) Avatar(w http.ResponseWriter, r *http.Request) {
	media, closeFn, ok := h.media(w, r, "avatar")
	if !ok {
		return
	}
	defer closeFn()
	resp, err := h.Pages.SetAvatar(r.Context(), chi.URLParam(r, "pageID"), media)
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Cover(w http.ResponseWriter, r *http.Request) {
	media, closeFn, ok := h.media(w, r, "cover")
	if !ok {
		return
	}
	defer closeFn()
	resp, err := h.Pages.SetCover(r.Context(), chi.URLParam(r, "pageID"), media)
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Conversations(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Pages.ListConversations(r.Context(), chi.URLParam(r, "pageID"))
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) Conversation(w http.ResponseWriter, r *http.Request) {
	resp, err := h.Pages.GetConversation(r.Context(), chi.URLParam(r, "pageID"), chi.URLParam(r, "threadID"))
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientID string `json:"recipient_id"`
		Text        string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	resp, err := h.Pages.SendMessage(r.Context(), chi.URLParam(r, "pageID"), body.RecipientID, body.Text)
	h.respond(w, r, resp, err)
}

func (h *PageHandlers) respond(w http.ResponseWriter, r *http.Request, resp *core.Response, err error) {
	recordOperation(r, err)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	body := map[string]any{}
	if resp != nil && resp.Body != nil {
		body = resp.Body
	}
	writeJSON(w, http.StatusOK, body)
}

// recordOperation counts the outcome of a page operation under its route pattern.
func recordOperation(r *http.Request, err error) {
	operation := r.Method + " " + r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			operation = r.Method + " " + pattern
		}
	}
	metrics.RecordOperation(operation, err == nil)
	if err == nil {
		return
	}
	kind := "internal"
	if gwErr, ok := core.AsError(err); ok {
		kind = string(gwErr.Kind)
	}
	metrics.RecordOperationError(operation, kind)
}

// media reads the named file part. The returned func releases the part and any
// temporary files backing the form.
func (h *PageHandlers) media(w http.ResponseWriter, r *http.Request, field string) (pages.Media, func(), bool) {
	limit := h.MaxUploadSize
	if limit <= 0 {
		limit = DefaultMaxUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			respondWithError(w, r, apperrors.NewPayloadTooLargeError(fmt.Sprintf("upload exceeds %d bytes", limit)))
			return pages.Media{}, nil, false
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "expected a multipart form"))
		return pages.Media{}, nil, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		cleanupForm(r.MultipartForm)
		respondWithError(w, r, core.NewInvalidInputError(field+" file is required"))
		return pages.Media{}, nil, false
	}

	media := pages.Media{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Reader:      file,
	}
	return media, func() {
		_ = file.Close()
		cleanupForm(r.MultipartForm)
	}, true
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	// multipart does not wrap every read error
	return strings.Contains(err.Error(), "request body too large")
}

func cleanupForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid JSON body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
