package twitter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"galleria/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = models.FeedCredentials{
	Username:       "twittername1",
	ConsumerKey:    "ck",
	ConsumerSecret: "cs",
	AccessToken:    "at",
	AccessSecret:   "as",
}

func newTestClient(url string, perMinute int) *Client {
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), url, perMinute, 5*time.Second)
}

func TestClient_Post(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req postRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1","text":` + mustJSON(t, req.Text) + `}}`))
	}))
	defer srv.Close()

	echoed, err := newTestClient(srv.URL, 0).Post(context.Background(), creds, "Café ¿qué?")
	require.NoError(t, err)

	assert.Equal(t, "Café ¿qué?", echoed)
	assert.True(t, strings.HasPrefix(gotAuth, "OAuth "), gotAuth)
	assert.Contains(t, gotAuth, `oauth_consumer_key="ck"`)
	assert.Contains(t, gotAuth, `oauth_token="at"`)
}

func TestClient_PostFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "rejected credentials",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
			},
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"data":`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(srv.URL, 0).Post(context.Background(), creds, "hello")
			assert.ErrorIs(t, err, ErrTransient)
		})
	}
}

func TestClient_PostHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL, 0).Post(ctx, creds, "hello")
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RateLimitPerAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1","text":"x"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 1)

	_, err := c.Post(context.Background(), creds, "x")
	require.NoError(t, err)

	// второй пост того же аккаунта ждет минуту и упирается в дедлайн
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Post(ctx, creds, "x")
	assert.ErrorIs(t, err, ErrTransient)

	other := creds
	other.Username = "twittername2"
	_, err = c.Post(context.Background(), other, "x")
	assert.NoError(t, err)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
