package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/taxipool/internal/auth"
	"github.com/example/taxipool/internal/kv"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *auth.Vault) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	vault := auth.NewVault(kv.NewMemoryStore())
	return NewClient(srv.URL, "/auth/refresh", 2*time.Second, vault, nil), vault
}

func TestBearerAttachment(t *testing.T) {
	var seen string
	client, vault := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	ctx := context.Background()

	_, err := client.Get(ctx, "/api/rooms")
	require.NoError(t, err)
	assert.Empty(t, seen, "no token stored, no header expected")

	require.NoError(t, vault.SetTokens(ctx, "tok-1", ""))
	_, err = client.Get(ctx, "/api/rooms")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", seen)
}

func TestRefreshRetryOn401(t *testing.T) {
	var refreshCalls, apiCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Write([]byte(`{"accessToken":"fresh","refreshToken":"refresh-2"}`))
	})
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		if r.Header.Get("Authorization") != "Bearer fresh" {
			http.Error(w, `{"message":"만료된 토큰이에요"}`, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"rooms":[]}`))
	})

	client, vault := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, vault.SetTokens(ctx, "stale", "refresh-1"))

	payload, err := client.Get(ctx, "/api/rooms")
	require.NoError(t, err)
	assert.NotNil(t, payload)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, 2, apiCalls, "original request retried exactly once")

	tok, err := vault.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	ref, err := vault.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", ref, "rotated refresh token stored")
}

func TestRefreshFailureSurfacesOriginalError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	})
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"로그인이 필요해요"}`, http.StatusUnauthorized)
	})

	client, vault := newTestClient(t, mux)
	ctx := context.Background()
	require.NoError(t, vault.SetTokens(ctx, "stale", "refresh-1"))

	_, err := client.Get(ctx, "/api/rooms")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status, "original 401 surfaced, not the refresh failure")
	assert.Equal(t, "로그인이 필요해요", apiErr.Message)
}

func TestRefreshEndpointItselfIsNotRetried(t *testing.T) {
	calls := 0
	client, vault := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	ctx := context.Background()
	require.NoError(t, vault.SetTokens(ctx, "t", "r"))

	_, err := client.Post(ctx, "/auth/refresh", map[string]string{"refreshToken": "r"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNoRefreshTokenMeansNoRetry(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "denied", http.StatusUnauthorized)
	}))

	_, err := client.Get(context.Background(), "/api/rooms")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestErrorMessageExtraction(t *testing.T) {
	cases := []struct {
		name, body, want string
	}{
		{"json message", `{"message":"방이 가득 찼어요"}`, "방이 가득 찼어요"},
		{"bare string body", `server exploded`, "server exploded"},
		{"json without message", `{"code":409}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(tc.body))
			}))
			_, err := client.Get(context.Background(), "/api/rooms")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.want, apiErr.Message)
		})
	}
}

func TestWrapKeepsServerMessage(t *testing.T) {
	err := Wrap(&APIError{Status: 500, Message: "서버 오류"}, "목록을 불러오지 못했어요.")
	assert.Equal(t, "서버 오류", err.Error())

	err = Wrap(&APIError{Status: 500}, "목록을 불러오지 못했어요.")
	assert.Equal(t, "목록을 불러오지 못했어요.", err.Error())

	err = Wrap(errors.New("dial tcp: refused"), "연결에 실패했어요.")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "연결에 실패했어요.", apiErr.Message)

	assert.NoError(t, Wrap(nil, "unused"))
}

func TestBuildRoomURL(t *testing.T) {
	cases := []struct{ template, want string }{
		{"/api/rooms/:id/join", "/api/rooms/room-1/join"},
		{"/v2/rooms/{id}/leave", "/v2/rooms/room-1/leave"},
		{"/api/rooms/", "/api/rooms/room-1"},
		{"/api/rooms", "/api/rooms/room-1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BuildRoomURL(tc.template, "room-1"), tc.template)
	}
}
