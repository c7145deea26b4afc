package bamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessionResponse{Token: "test-token"})
	})
	mux.HandleFunc("/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL:   srv.URL,
		Username:  "admin",
		Password:  "secret",
		VerifySSL: true,
		PageSize:  10,
	})
}

func TestList_FollowsNextLinkUntilAbsent(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		switch calls {
		case 1:
			fmt.Fprint(w, `{"data":[{"id":1,"type":"IP4Block"}],"_links":{"next":{"href":"/api/v2/blocks?page=2"}}}`)
		default:
			fmt.Fprint(w, `{"data":[{"id":2,"type":"IP4Block"}]}`)
		}
	})

	results, err := c.List(context.Background(), "blocks", ListOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(2), results[1].ID)
	assert.Equal(t, 2, calls)
}

func TestList_SelfReferentialNextLinkStopsInsteadOfLooping(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		// next points back at the exact path+query the client already
		// visited (default page size 10, no filter), so the dedupe check
		// must break the loop before issuing a second request.
		fmt.Fprint(w, `{"data":[{"id":1,"type":"IP4Block"}],"_links":{"next":{"href":"blocks?limit=10"}}}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := c.List(ctx, "blocks", ListOptions{})
	require.NoError(t, err)
	// the self-reference is detected before a second fetch, so exactly
	// one page's worth of results is returned and the handler runs once.
	require.Len(t, results, 1)
	assert.Equal(t, 1, calls)
}

func TestList_EmbeddedCollectionFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"_embedded":{"blocks":[{"id":5,"type":"IP4Block"}]}}`)
	})

	results, err := c.List(context.Background(), "blocks", ListOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(5), results[0].ID)
}

func TestList_MalformedEntryDoesNotAbortPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"not-a-number"},{"id":2,"type":"IP4Block"}]}`)
	})

	results, err := c.List(context.Background(), "blocks", ListOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestList_ItemCapStopsAcrossPages(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":[{"id":%d,"type":"IP4Block"},{"id":%d,"type":"IP4Block"}],"_links":{"next":{"href":"/api/v2/blocks?page=%d"}}}`, calls*10, calls*10+1, calls+1)
	})

	results, err := c.List(context.Background(), "blocks", ListOptions{ItemCap: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestList_PageCapStopsFollowingNext(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":[{"id":%d,"type":"IP4Block"}],"_links":{"next":{"href":"/api/v2/blocks?page=%d"}}}`, calls, calls+1)
	})

	results, err := c.List(context.Background(), "blocks", ListOptions{PageCap: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}
