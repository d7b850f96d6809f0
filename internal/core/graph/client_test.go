package graph

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagegate/pagegate/internal/core"
)

func TestDoCooldownShortCircuits(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"1"}`)
	})
	env.client.Tracker.ExtendCooldown(60 * time.Second)

	_, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	require.Error(t, err)

	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorKindRateLimit, gwErr.Kind)
	require.Equal(t, http.StatusTooManyRequests, gwErr.StatusCode)
	require.Equal(t, 60, gwErr.RetryAfterSeconds())
	require.Zero(t, env.calls.Load())
}

func TestDoRetriesShortRetryAfterOnce(t *testing.T) {
	var n atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"42"}`)
	})

	resp, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	require.NoError(t, err)
	require.Equal(t, "42", resp.String("id"))
	require.Equal(t, int32(2), env.calls.Load())
	require.Contains(t, env.sleeps(), 3*time.Second)

	// The 429 still leaves the process cooling down for at least 120s from the hit.
	require.Equal(t, 117*time.Second, env.client.Tracker.RemainingCooldown())
}

func TestDoDoesNotRetryLongRetryAfter(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, `{}`)
	})

	_, err := env.client.Post(context.Background(), "p1/feed", url.Values{"message": {"hi"}}, "tok", core.ResourceContext("p1"))
	require.True(t, core.IsKind(err, core.ErrorKindRateLimit))

	gwErr, _ := core.AsError(err)
	require.Equal(t, 120, gwErr.RetryAfterSeconds())
	require.Equal(t, int32(1), env.calls.Load())
	require.Equal(t, 120*time.Second, env.client.Tracker.RemainingCooldown())
}

func TestDoRateLimitWithoutHintUsesDefault(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{}`)
	})

	_, err := env.client.Get(context.Background(), "me", nil, "tok", "")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, 300, gwErr.RetryAfterSeconds())
	require.Equal(t, int32(1), env.calls.Load())
}

func TestDoUpstreamErrorBodyVerbatim(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, `{"error":{"message":"Invalid parameter","code":100}}`)
	})

	_, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorKindUpstream, gwErr.Kind)
	require.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	require.Equal(t, map[string]any{
		"error": map[string]any{"message": "Invalid parameter", "code": float64(100)},
	}, gwErr.Body)
}

func TestDoUpstreamErrorWrapsPlainText(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	})

	_, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusBadGateway, gwErr.StatusCode)
	require.Equal(t, map[string]any{"error": "bad gateway"}, gwErr.Body)
}

func TestDoTransportError(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {})
	env.server.Close()

	_, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorKindTransport, gwErr.Kind)
	require.Equal(t, http.StatusInternalServerError, gwErr.StatusCode)
	require.NotEmpty(t, gwErr.Message)
}

func TestDoWrapsNonObjectSuccess(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `true`)
	})

	resp, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, map[string]any{"raw": "true"}, resp.Body)
}

func TestDoRecordsUsageTelemetry(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Usage", `{"call_count":95,"total_time":10,"total_cputime":5}`)
		writeJSON(w, http.StatusOK, `{"id":"1"}`)
	})

	_, err := env.client.Get(context.Background(), "p1", nil, "tok", "")
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, env.client.Tracker.RemainingCooldown())

	snapshot := env.client.CurrentUsageSnapshot()
	require.NotNil(t, snapshot.App)
	require.Equal(t, float64(95), snapshot.App.CallCount)

	// The next call never reaches the upstream.
	_, err = env.client.Get(context.Background(), "p1", nil, "tok", "")
	require.True(t, core.IsKind(err, core.ErrorKindRateLimit))
	require.Equal(t, int32(1), env.calls.Load())
}

func TestDoGetEncodesQueryWithoutCredential(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/me/accounts", r.URL.Path)
		require.Equal(t, "200", r.URL.Query().Get("limit"))
		require.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"data":[]}`)
	})

	_, err := env.client.Get(context.Background(), "me/accounts", url.Values{"limit": {"200"}}, "", "")
	require.NoError(t, err)
}

func TestDoMultipartCarriesFilesAndForm(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "true", r.FormValue("published"))
		require.Equal(t, "hello", r.FormValue("caption"))

		file, header, err := r.FormFile("source")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "photo.jpg", header.Filename)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "jpeg-bytes", string(data))

		writeJSON(w, http.StatusOK, `{"id":"ph1","post_id":"p1_9"}`)
	})

	files := []File{{Field: "source", Filename: "photo.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}}
	form := url.Values{"published": {"true"}, "caption": {"hello"}}
	resp, err := env.client.PostMultipart(context.Background(), "p1/photos", files, form, "tok", core.ResourceContext("p1"))
	require.NoError(t, err)
	require.Equal(t, "p1_9", resp.String("post_id"))
}

func TestDoRejectsDuplicateFingerprint(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"1"}`)
	})

	req := func() *Request {
		return &Request{
			Method:      http.MethodPost,
			Path:        "p1/feed",
			Params:      url.Values{"message": {"same text"}},
			Credential:  "tok",
			ContextKey:  core.ResourceContext("p1"),
			Fingerprint: &Fingerprint{Kind: "post", ResourceKey: "p1", Content: "same text"},
		}
	}

	_, err := env.client.Do(context.Background(), req())
	require.NoError(t, err)

	_, err = env.client.Do(context.Background(), req())
	gwErr, ok := core.AsError(err)
	require.True(t, ok)
	require.Equal(t, core.ErrorKindDuplicateContent, gwErr.Kind)
	require.Equal(t, http.StatusTooManyRequests, gwErr.StatusCode)
	require.Equal(t, int32(1), env.calls.Load())
}

func TestDoPacesPerResource(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	for i := 0; i < 3; i++ {
		_, err := env.client.Get(context.Background(), "p1", nil, "tok", core.ResourceContext("p1"))
		require.NoError(t, err)
	}
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, env.sleeps())
}

func TestRetryAfter(t *testing.T) {
	cases := map[string]time.Duration{
		"":     300 * time.Second,
		"0":    0,
		"3":    3 * time.Second,
		"soon": 300 * time.Second,
		"-4":   300 * time.Second,
		" 12 ": 12 * time.Second,
	}
	for raw, want := range cases {
		header := http.Header{}
		if raw != "" {
			header.Set("Retry-After", raw)
		}
		require.Equal(t, want, retryAfter(header), "Retry-After %q", raw)
	}
}
