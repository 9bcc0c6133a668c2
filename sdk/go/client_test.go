package xynsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xynconsole/internal/domain"
)

func TestCredentialPrecedence(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	c.APIKey = "key"
	c.ActorID = "alice"
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Empty(t, got.Get("X-Api-Key"))

	c.BearerToken = ""
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "key", got.Get("X-Api-Key"))
	assert.Empty(t, got.Get("X-Actor-Id"))

	c.APIKey = ""
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "alice", got.Get("X-Actor-Id"))
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"draft session not found"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetDraftSession(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, "draft session not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
	assert.False(t, apiErr.Transient())
}

func TestErrorWithoutEnvelope(t *testing.T) {
	e := decodeAPIError(http.StatusBadGateway, []byte("upstream down"))
	assert.Equal(t, "upstream down", e.Body)
	assert.Empty(t, e.Code)
	assert.True(t, e.Transient())
	assert.Contains(t, e.Error(), "status=502")
	assert.False(t, IsNotFound(e))
}

func TestListQueryEncoding(t *testing.T) {
	var query string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[{"id":"s1","title":"one"}]}`))
	}))
	defer srv.Close()

	items, err := New(srv.URL+"/v0").ListDraftSessions(context.Background(), domain.DraftSessionFilter{Kind: "solution", Q: " "})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].ID)
	assert.Equal(t, "/v0/draft-sessions", path)
	assert.Equal(t, "kind=solution", query)
}

func TestSessionPathEscapes(t *testing.T) {
	assert.Equal(t, "draft-sessions/a%2Fb/generate", sessionPath("a/b", "generate"))
	assert.Equal(t, "draft-sessions/x", sessionPath("x", ""))
}
