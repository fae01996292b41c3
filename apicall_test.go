package stageflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stageflow/stageflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiCallDefs(endpoint string) []*StageDefinition {
	return []*StageDefinition{
		{
			URI:     "/sync",
			Type:    StageAPICall,
			NextURI: "/done",
			Request: &RequestSpec{
				Method: "POST",
				URI:    endpoint,
				Data:   map[string]string{"email": "profile.email"},
			},
			Response: &ResponseSpec{
				ExtractData: []ExtractRule{{Source: "a", Destination: "profile.a"}},
			},
		},
		{URI: "/done", Type: StageMessage, Final: true},
	}
}

func TestAPICallExtractsResponseData(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"a": 42})
	}))
	defer server.Close()

	users := newRecordingStore()
	users.Seed(testUserID, store.UserRecord{
		"profile": map[string]any{"email": "ada@example.com"},
	})

	c, messenger := newTestController(t, apiCallDefs(server.URL), newMessageRegistry(nil), users)

	err := c.Route(context.Background(), "/sync", nil)
	assert.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, gotBody)

	// Exactly one write carries the extracted field.
	writes := users.updatesExcludingURITracking()
	require.Len(t, writes, 1)
	assert.Equal(t, map[string]any{"profile.a": float64(42)}, writes[0])

	assert.Equal(t, []string{"reply:hello@/done"}, messenger.trace)
}

func TestAPICallInterpolatesRequestURI(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	defs := []*StageDefinition{
		{
			URI:     "/sync",
			Type:    StageAPICall,
			NextURI: "/done",
			Request: &RequestSpec{URI: server.URL + "/users/${user.id}"},
		},
		{URI: "/done", Type: StageMessage, Final: true},
	}

	c, _ := newTestController(t, defs, newMessageRegistry(nil), store.NewMemoryStore())

	require.NoError(t, c.Route(context.Background(), "/sync", nil))
	assert.Equal(t, "/users/"+testUserID, gotPath)
}

func TestAPICallErrorStatusRendersApology(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	users := newRecordingStore()
	c, messenger := newTestController(t, apiCallDefs(server.URL), newMessageRegistry(nil), users)

	// Fail closed: apologize, do not advance, do not surface the error.
	err := c.Route(context.Background(), "/sync", nil)
	assert.NoError(t, err)

	assert.Equal(t, []string{"reply:" + DefaultConfig().APIFailureText + "@/sync"}, messenger.trace)
	assert.Empty(t, users.updatesExcludingURITracking())
}

func TestAPICallBodyStatusPolicyIsConfigurable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 418})
	}))
	defer server.Close()

	// Default policy only treats 400 and 500 as failures.
	c, messenger := newTestController(t, apiCallDefs(server.URL), newMessageRegistry(nil), newRecordingStore())
	require.NoError(t, c.Route(context.Background(), "/sync", nil))
	assert.Equal(t, []string{"reply:hello@/done"}, messenger.trace)

	// An operator-configured policy can reject the same body.
	c, messenger = newTestController(t, apiCallDefs(server.URL), newMessageRegistry(nil), newRecordingStore(),
		WithConfig(Config{APIErrorStatuses: []int{418}}))
	require.NoError(t, c.Route(context.Background(), "/sync", nil))
	assert.Equal(t, []string{"reply:" + DefaultConfig().APIFailureText + "@/sync"}, messenger.trace)
}

func TestAPICallTransportFailureRendersApology(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	c, messenger := newTestController(t, apiCallDefs(endpoint), newMessageRegistry(nil), newRecordingStore())

	err := c.Route(context.Background(), "/sync", nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"reply:" + DefaultConfig().APIFailureText + "@/sync"}, messenger.trace)
}

func TestAPICallSkipsWhenComplete(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	defs := apiCallDefs(server.URL)
	defs[0].StorageProperty = "profile.synced"

	users := store.NewMemoryStore()
	users.Seed(testUserID, store.UserRecord{
		"profile": map[string]any{"synced": true},
	})

	c, messenger := newTestController(t, defs, newMessageRegistry(nil), users)

	require.NoError(t, c.Route(context.Background(), "/sync", nil))
	assert.Zero(t, calls)
	assert.Equal(t, []string{"reply:hello@/done"}, messenger.trace)
}

func TestAPICallWithoutRequestFails(t *testing.T) {
	defs := []*StageDefinition{
		{URI: "/sync", Type: StageAPICall, NextURI: "/done"},
		{URI: "/done", Type: StageMessage, Final: true},
	}

	c, messenger := newTestController(t, defs, newMessageRegistry(nil), store.NewMemoryStore())

	err := c.Route(context.Background(), "/sync", nil)
	assert.Error(t, err)
	assert.Empty(t, messenger.trace)
}
