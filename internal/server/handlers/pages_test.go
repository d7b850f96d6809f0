package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/graph"
	"github.com/pagegate/pagegate/internal/core/pages"
	"github.com/pagegate/pagegate/internal/metrics"
	"github.com/pagegate/pagegate/internal/observability"
)

type stubPages struct {
	lastPage   string
	lastText   string
	lastMedia  string
	lastUpdate pages.InfoUpdate
	err        error
	found      []core.Page
	reelResult *graph.UploadResult
}

func (s *stubPages) reply(pageID, text string) (*core.Response, error) {
	s.lastPage, s.lastText = pageID, text
	if s.err != nil {
		return nil, s.err
	}
	return &core.Response{StatusCode: 200, Body: map[string]any{"id": "obj-1"}}, nil
}

func (s *stubPages) readMedia(media pages.Media) {
	data, _ := io.ReadAll(media.Reader)
	s.lastMedia = media.Filename + ":" + string(data)
}

func (s *stubPages) ListPages(context.Context) ([]core.Page, error) { return s.found, s.err }

func (s *stubPages) PageInfo(_ context.Context, pageID string) (*core.Response, error) {
	return s.reply(pageID, "")
}

func (s *stubPages) UpdatePageInfo(_ context.Context, pageID string, update pages.InfoUpdate) (*core.Response, error) {
	s.lastUpdate = update
	return s.reply(pageID, "")
}

func (s *stubPages) PublishPost(_ context.Context, pageID, message string) (*core.Response, error) {
	return s.reply(pageID, message)
}

func (s *stubPages) PublishPhoto(_ context.Context, pageID string, media pages.Media, caption string) (*core.Response, error) {
	s.readMedia(media)
	return s.reply(pageID, caption)
}

func (s *stubPages) PublishVideo(_ context.Context, pageID string, media pages.Media, description string) (*core.Response, error) {
	s.readMedia(media)
	return s.reply(pageID, description)
}

func (s *stubPages) PublishReel(_ context.Context, pageID string, media pages.Media, description string) (*graph.UploadResult, error) {
	s.readMedia(media)
	s.lastPage, s.lastText = pageID, description
	return s.reelResult, s.err
}

func (s *stubPages) SetAvatar(_ context.Context, pageID string, media pages.Media) (*core.Response, error) {
	s.readMedia(media)
	return s.reply(pageID, "")
}

func (s *stubPages) SetCover(_ context.Context, pageID string, media pages.Media) (*core.Response, error) {
	s.readMedia(media)
	return s.reply(pageID, "")
}

func (s *stubPages) ListConversations(_ context.Context, pageID string) (*core.Response, error) {
	return s.reply(pageID, "")
}

func (s *stubPages) GetConversation(_ context.Context, pageID, threadID string) (*core.Response, error) {
	return s.reply(pageID, threadID)
}

func (s *stubPages) SendMessage(_ context.Context, pageID, recipientID, text string) (*core.Response, error) {
	return s.reply(pageID, recipientID+"/"+text)
}

func newPageRouter(svc *stubPages, maxUpload int64) http.Handler {
	h := &PageHandlers{Pages: svc, MaxUploadSize: maxUpload}
	r := chi.NewRouter()
	r.Route("/api/pages", h.Routes)
	return r
}

func multipartBody(t *testing.T, field, filename, content string, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range values {
		require.NoError(t, mw.WriteField(key, value))
	}
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestPageHandlersPost(t *testing.T) {
	svc := &stubPages{}
	router := newPageRouter(svc, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/pages/p1/post", strings.NewReader(`{"message":"hello"}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", svc.lastPage)
	assert.Equal(t, "hello", svc.lastText)
	assert.Equal(t, "obj-1", decodeBody(t, rec)["id"])
}

func TestPageHandlersRejectInvalidJSON(t *testing.T) {
	router := newPageRouter(&stubPages{}, 0)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pages/p1/messages", strings.NewReader(`{`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPageHandlersMapGatewayErrors(t *testing.T) {
	svc := &stubPages{err: core.NewRateLimitError(90 * time.Second)}
	router := newPageRouter(svc, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages/p1/info", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	errBody := decodeBody(t, rec)["error"].(map[string]any)
	assert.Equal(t, "RATE_LIMIT", errBody["code"])
}

func TestPageHandlersRecordOperations(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)
	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	router := newPageRouter(&stubPages{err: core.NewUpstreamError(400, nil)}, 0)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages/p1/conversations", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 1, collector.CountMetricsByName(metrics.OperationsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(metrics.OperationsErrorsTotal))
}

func TestPageHandlersPhotoUpload(t *testing.T) {
	svc := &stubPages{}
	router := newPageRouter(svc, 0)

	body, contentType := multipartBody(t, "photo", "a.jpg", "jpeg-bytes", map[string]string{"caption": "sunset"})
	req := httptest.NewRequest(http.MethodPost, "/api/pages/p1/photo", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a.jpg:jpeg-bytes", svc.lastMedia)
	assert.Equal(t, "sunset", svc.lastText)
}

func TestPageHandlersMissingFile(t *testing.T) {
	router := newPageRouter(&stubPages{}, 0)

	body, contentType := multipartBody(t, "", "", "", map[string]string{"caption": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/pages/p1/photo", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPageHandlersUploadTooLarge(t *testing.T) {
	router := newPageRouter(&stubPages{}, 64)

	body, contentType := multipartBody(t, "video", "v.mp4", strings.Repeat("x", 512), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/pages/p1/video", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPageHandlersReel(t *testing.T) {
	svc := &stubPages{reelResult: &graph.UploadResult{
		VideoID:      "v1",
		Body:         map[string]any{"success": true},
		PermalinkURL: "https://example.invalid/reel/v1",
		Phase:        core.UploadPhaseFinish,
	}}
	router := newPageRouter(svc, 0)

	body, contentType := multipartBody(t, "video", "r.mp4", "reel", map[string]string{"description": "clip"})
	req := httptest.NewRequest(http.MethodPost, "/api/pages/p1/reel", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "v1", resp["video_id"])
	assert.Equal(t, "https://example.invalid/reel/v1", resp["permalink_url"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "clip", svc.lastText)
}

func TestPageHandlersUpdateInfo(t *testing.T) {
	svc := &stubPages{}
	router := newPageRouter(svc, 0)

	payload := `{"name":"Shop","address":{"city":"Lisbon"},"always_open":true}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pages/p1/info", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Shop", svc.lastUpdate.Name)
	assert.Equal(t, "Lisbon", svc.lastUpdate.Address.City)
	assert.True(t, svc.lastUpdate.AlwaysOpen)
}

func TestPageHandlersConversationAndMessages(t *testing.T) {
	svc := &stubPages{}
	router := newPageRouter(svc, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages/p1/conversations/t9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t9", svc.lastText)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/pages/p1/messages",
		strings.NewReader(`{"recipient_id":"u1","text":"hi"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1/hi", svc.lastText)
}

func TestPageHandlersListHidesCredentials(t *testing.T) {
	svc := &stubPages{found: []core.Page{{ID: "p1", Name: "One", AccessToken: "secret"}}}
	router := newPageRouter(svc, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	data := decodeBody(t, rec)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "One", data[0].(map[string]any)["name"])
}

type stubUsage core.UsageSnapshot

func (s stubUsage) CurrentUsageSnapshot() core.UsageSnapshot { return core.UsageSnapshot(s) }

func TestUsageHandler(t *testing.T) {
	t.Run("no telemetry yet", func(t *testing.T) {
		rec := httptest.NewRecorder()
		UsageHandler(stubUsage{})(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 0, body["cooldown_remaining"])
		assert.NotContains(t, body, "last_usage")
	})

	t.Run("cooldown and last usage", func(t *testing.T) {
		snapshot := stubUsage{
			App:               &core.UsageIndicator{CallCount: 85},
			AppRaw:            `{"call_count":85}`,
			ObservedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			CooldownRemaining: 119500 * time.Millisecond,
		}
		rec := httptest.NewRecorder()
		UsageHandler(snapshot)(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

		body := decodeBody(t, rec)
		assert.EqualValues(t, 120, body["cooldown_remaining"])
		last := body["last_usage"].(map[string]any)
		assert.EqualValues(t, 85, last["app"].(map[string]any)["call_count"])
	})
}
