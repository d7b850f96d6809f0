package graph

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagegate/pagegate/internal/core"
)

type uploadStub struct {
	mu       sync.Mutex
	phases   []string
	transfer int
	headers  http.Header
	payload  string

	startBody      string
	transferStatus int
	permalinkFails bool
}

func (s *uploadStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/upload/"):
		s.transfer++
		s.headers = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		s.payload = string(data)
		status := s.transferStatus
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, `{"success":true}`)
	case r.URL.Path == "/p1/video_reels":
		_ = r.ParseForm()
		phase := r.PostForm.Get("upload_phase")
		s.phases = append(s.phases, phase)
		if phase == "start" {
			body := s.startBody
			if body == "" {
				body = `{"video_id":"v1","upload_url":"https://example.invalid"}`
			}
			writeJSON(w, http.StatusOK, body)
			return
		}
		writeJSON(w, http.StatusOK, `{"success":true}`)
	case r.URL.Path == "/v1":
		if s.permalinkFails {
			writeJSON(w, http.StatusInternalServerError, `{"error":{"message":"boom"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"permalink_url":"https://example.test/reel/v1"}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestUploadLargeMediaSucceeds(t *testing.T) {
	stub := &uploadStub{}
	env := newTestEnv(t, stub.handle)

	result, err := env.client.UploadLargeMedia(context.Background(), "p1", "tok", strings.NewReader("video-bytes"), "my reel")
	require.NoError(t, err)
	require.Equal(t, "v1", result.VideoID)
	require.Equal(t, core.UploadPhaseFinish, result.Phase)
	require.Equal(t, "https://example.test/reel/v1", result.PermalinkURL)

	require.Equal(t, []string{"start", "finish"}, stub.phases)
	require.Equal(t, 1, stub.transfer)
	require.Equal(t, "video-bytes", stub.payload)
	require.Equal(t, "OAuth tok", stub.headers.Get("Authorization"))
	require.Equal(t, "0", stub.headers.Get("offset"))
	require.Equal(t, "application/octet-stream", stub.headers.Get("Content-Type"))
}

func TestUploadLargeMediaTransferFailureSkipsFinish(t *testing.T) {
	stub := &uploadStub{transferStatus: http.StatusInternalServerError}
	env := newTestEnv(t, stub.handle)

	_, err := env.client.UploadLargeMedia(context.Background(), "p1", "tok", strings.NewReader("video-bytes"), "my reel")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorKindUploadPhaseFailed, gwErr.Kind)
	require.Equal(t, core.UploadPhaseTransfer, gwErr.Phase)
	require.Equal(t, CodeUploadTransferFailed, gwErr.Code)
	require.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)

	require.Equal(t, []string{"start"}, stub.phases)
}

func TestUploadLargeMediaStartWithoutID(t *testing.T) {
	stub := &uploadStub{startBody: `{"upload_url":"https://example.invalid"}`}
	env := newTestEnv(t, stub.handle)

	_, err := env.client.UploadLargeMedia(context.Background(), "p1", "tok", strings.NewReader("video-bytes"), "")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.UploadPhaseStart, gwErr.Phase)
	require.Equal(t, CodeUploadStartFailed, gwErr.Code)
	require.Zero(t, stub.transfer)
}

func TestUploadLargeMediaIgnoresPermalinkFailure(t *testing.T) {
	stub := &uploadStub{permalinkFails: true}
	env := newTestEnv(t, stub.handle)

	result, err := env.client.UploadLargeMedia(context.Background(), "p1", "tok", strings.NewReader("video-bytes"), "")
	require.NoError(t, err)
	require.Empty(t, result.PermalinkURL)
	require.Equal(t, "v1", result.VideoID)
}

func TestUploadLargeMediaRequiresResource(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := env.client.UploadLargeMedia(context.Background(), " ", "tok", strings.NewReader("x"), "")
	require.True(t, core.IsKind(err, core.ErrorKindInvalidInput))
	require.Zero(t, env.calls.Load())
}
