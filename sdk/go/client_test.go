package voltlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedSendsActorHeadersAndCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/feed", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "90", r.URL.Query().Get("before"))
		assert.Equal(t, "mgr-1", r.Header.Get("X-Actor-Id"))
		assert.Equal(t, "Manager", r.Header.Get("X-Actor-Role"))
		_ = json.NewEncoder(w).Encode(FeedPage{Events: []Event{{ID: 89, Verb: "task.created"}}, Unread: 3})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.ActorID, c.ActorRole = "mgr-1", "Manager"
	page, err := c.Feed(context.Background(), 25, 90)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "task.created", page.Events[0].Verb)
	assert.Equal(t, 3, page.Unread)
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition","message":"task cannot move from Completed to InProgress"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.Transition(context.Background(), "T001", "InProgress", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)
}
