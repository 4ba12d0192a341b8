package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/models"
)

func TestHTTPSource_Pull(t *testing.T) {
	var gotAuth, gotSince string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"n1","title":"读书笔记","content":"the body","updated_at":"2026-08-30T10:00:00Z"},
			{"id":"n2","title":"html note","content":"<p>hi</p>","content_type":"text/html","updated_at":"2026-08-30T11:00:00Z"}
		]`))
	}))
	defer ts.Close()

	src := NewHTTPSource("apple-notes", ts.URL, "tok", testLogger())
	assert.Equal(t, "apple-notes", src.Name())
	assert.Equal(t, models.LayerSource, src.Layer())

	since := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	items, err := src.Pull(context.Background(), PullOptions{Since: since})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "2026-08-30T09:00:00Z", gotSince)

	require.Len(t, items, 2)
	// Default ordering is newest first.
	assert.Equal(t, "n2", items[0].SourceID)
	assert.Equal(t, "text/html", items[0].ContentType)
	assert.Equal(t, "n1", items[1].SourceID)
	assert.Equal(t, "text/plain", items[1].ContentType)
	assert.Empty(t, items[1].EntityID, "identity is resolved by the orchestrator")
}

func TestHTTPSource_ItemWithoutIDQueuedForReview(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"title":"orphan","content":"x","updated_at":"2026-08-30T10:00:00Z"}]`))
	}))
	defer ts.Close()

	src := NewHTTPSource("apple-notes", ts.URL, "", testLogger())
	items, err := src.Pull(context.Background(), PullOptions{})
	require.NoError(t, err)

	require.Len(t, items, 1, "an id-less item is flagged, not dropped")
	assert.NotEmpty(t, items[0].ParseError)
	assert.True(t, strings.HasPrefix(items[0].SourceID, "unidentified-"))

	// The synthesized id is stable, so the next cycle resolves the same
	// entity instead of re-ingesting.
	again, err := src.Pull(context.Background(), PullOptions{})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, items[0].SourceID, again[0].SourceID)
}

func TestHTTPSource_PullForwardsLimitAndOrder(t *testing.T) {
	var gotLimit, gotOrder string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		gotOrder = r.URL.Query().Get("order")
		// The feed ignores the hints; the adapter must enforce them.
		w.Write([]byte(`[
			{"id":"n1","title":"a","content":"x","updated_at":"2026-08-30T10:00:00Z"},
			{"id":"n2","title":"b","content":"y","updated_at":"2026-08-30T11:00:00Z"},
			{"id":"n3","title":"c","content":"z","updated_at":"2026-08-30T09:00:00Z"}
		]`))
	}))
	defer ts.Close()

	src := NewHTTPSource("apple-notes", ts.URL, "", testLogger())
	items, err := src.Pull(context.Background(), PullOptions{Limit: 2, Order: OrderOldestFirst})
	require.NoError(t, err)

	assert.Equal(t, "2", gotLimit)
	assert.Equal(t, "oldest-first", gotOrder)
	require.Len(t, items, 2)
	assert.Equal(t, "n3", items[0].SourceID)
	assert.Equal(t, "n1", items[1].SourceID)
}

func TestHTTPSource_PullErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/500":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/garbage":
			w.Write([]byte("not json"))
		}
	}))
	defer ts.Close()

	_, err := NewHTTPSource("s", ts.URL+"/500", "", testLogger()).Pull(context.Background(), PullOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	_, err = NewHTTPSource("s", ts.URL+"/garbage", "", testLogger()).Pull(context.Background(), PullOptions{})
	require.Error(t, err)
}

func TestHTTPSource_Create(t *testing.T) {
	var gotMethod, gotAuth string
	var gotBody feedItem
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"ext-9"}`))
	}))
	defer ts.Close()

	src := NewHTTPSource("apple-notes", ts.URL, "tok", testLogger())
	id, err := src.Create(context.Background(), SourceItem{
		Title:   "pushed note",
		Content: "body",
	})
	require.NoError(t, err)

	assert.Equal(t, "ext-9", id)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "pushed note", gotBody.Title)
	assert.Equal(t, "body", gotBody.Content)
}

func TestHTTPSource_CreateUnsupportedFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "read only", http.StatusMethodNotAllowed)
	}))
	defer ts.Close()

	_, err := NewHTTPSource("s", ts.URL, "", testLogger()).Create(context.Background(), SourceItem{Title: "t"})
	assert.ErrorIs(t, err, ErrCreateUnsupported)
}
