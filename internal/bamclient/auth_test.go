package bamclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_SerializesCredentialsAsJSON(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{Token: "abc123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "alice", Password: "p@ss w/ord"})
	require.NoError(t, c.authenticate(context.Background()))

	assert.Equal(t, "alice", gotBody["username"])
	assert.Equal(t, "p@ss w/ord", gotBody["password"])
}

func TestAuthenticate_SetsBearerAndBasicAuthFromSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{Token: "abc123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "alice", Password: "secret"})
	require.NoError(t, c.authenticate(context.Background()))

	assert.Equal(t, "Bearer abc123", c.authHeader())

	wantBasic := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	assert.Equal(t, wantBasic, c.basicAuth)
}

func TestAuthenticate_ConcurrentMissesCollapseIntoOneRequest(t *testing.T) {
	var sessionCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sessionCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{Token: "abc123"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "alice", Password: "secret"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.authenticate(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&sessionCalls))
}

func TestForceReauthenticate_IssuesFreshSessionRequest(t *testing.T) {
	var sessionCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&sessionCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{Token: "token-" + string(rune('0'+n))})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Username: "alice", Password: "secret"})
	require.NoError(t, c.authenticate(context.Background()))
	first := c.authHeader()

	require.NoError(t, c.forceReauthenticate(context.Background()))
	second := c.authHeader()

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), atomic.LoadInt32(&sessionCalls))
}
