package executor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// fakeServer is a minimal in-memory HAL+JSON backend exercising only what
// bamclient.Client needs: session exchange plus create/get/patch/delete on
// arbitrary collections, keyed by an auto-incrementing id.
type fakeServer struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]map[int64]map[string]any
}

func newFakeServer() *httptest.Server {
	fs := &fakeServer{records: map[string]map[int64]map[string]any{}}
	return httptest.NewServer(http.HandlerFunc(fs.handle))
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v2/")
	segments := strings.Split(path, "/")

	if segments[0] == "sessions" {
		json.NewEncoder(w).Encode(map[string]string{"token": "fake-token"})
		return
	}

	collection := segments[0]

	switch r.Method {
	case http.MethodPost:
		// a nested create ("blocks/42/networks") stores into the trailing
		// collection segment, same as the real API's parent-scoped POST.
		target := collection
		if len(segments) == 3 {
			target = segments[2]
		}

		fs.mu.Lock()
		fs.nextID++
		id := fs.nextID
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if fs.records[target] == nil {
			fs.records[target] = map[int64]map[string]any{}
		}
		fs.records[target][id] = body
		fs.mu.Unlock()

		entity := map[string]any{"id": id, "type": target, "properties": body}
		json.NewEncoder(w).Encode(entity)

	case http.MethodGet, http.MethodPatch, http.MethodDelete:
		if len(segments) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		id, _ := strconv.ParseInt(segments[1], 10, 64)

		fs.mu.Lock()
		defer fs.mu.Unlock()
		byID := fs.records[collection]
		if byID == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		existing, ok := byID[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"id": id, "type": collection, "properties": existing})
		case http.MethodPatch:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			for k, v := range body {
				existing[k] = v
			}
			json.NewEncoder(w).Encode(map[string]any{"id": id, "type": collection, "properties": existing})
		case http.MethodDelete:
			delete(byID, id)
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
