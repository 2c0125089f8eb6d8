package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leejennwah/reliable-queue/internal/metrics"
	"github.com/leejennwah/reliable-queue/internal/queue"
	"github.com/leejennwah/reliable-queue/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	queues := queue.NewFactory(store.NewMemory(), nil, metrics.New(prometheus.NewRegistry()), zap.NewNop())
	srv := httptest.NewServer(newHandler(queues, zap.NewNop()).routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

func TestItemLifecycle(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/queues/emails"

	resp := do(t, http.MethodPost, base+"/items", `{"payload":{"to":"a@example.com"}}`)
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 1 {
		t.Errorf("expected id 1, got %d", created.ID)
	}

	resp = do(t, http.MethodGet, base, "")
	expectStatus(t, resp, http.StatusOK)
	var count struct {
		Name  string `json:"name"`
		Count int64  `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&count)
	if count.Name != "emails" || count.Count != 1 {
		t.Errorf("expected emails with 1 item, got %s with %d", count.Name, count.Count)
	}

	resp = do(t, http.MethodPost, base+"/claims", `{"lease_seconds":60}`)
	expectStatus(t, resp, http.StatusOK)
	var claimed struct {
		ID      int64           `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	json.NewDecoder(resp.Body).Decode(&claimed)
	if claimed.ID != 1 {
		t.Errorf("expected claimed id 1, got %d", claimed.ID)
	}
	if string(claimed.Payload) != `{"to":"a@example.com"}` {
		t.Errorf("expected original payload, got %s", claimed.Payload)
	}

	expectStatus(t, do(t, http.MethodPost, base+"/claims", ""), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodPost, base+"/items/1/lease", `{"lease_seconds":30}`), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodDelete, base+"/items/1", ""), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodDelete, base+"/items/1", ""), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodPost, base+"/items/99/lease", ""), http.StatusConflict)

	resp = do(t, http.MethodGet, base, "")
	json.NewDecoder(resp.Body).Decode(&count)
	if count.Count != 0 {
		t.Errorf("expected empty queue, got %d", count.Count)
	}
}

func TestReleaseRedelivers(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/queues/jobs"

	for i := 0; i < 2; i++ {
		expectStatus(t, do(t, http.MethodPost, base+"/items", fmt.Sprintf(`{"payload":%d}`, i)), http.StatusCreated)
	}

	claim := func() int64 {
		resp := do(t, http.MethodPost, base+"/claims", "")
		expectStatus(t, resp, http.StatusOK)
		var it struct {
			ID int64 `json:"id"`
		}
		json.NewDecoder(resp.Body).Decode(&it)
		return it.ID
	}

	first := claim()
	expectStatus(t, do(t, http.MethodPost, fmt.Sprintf("%s/items/%d/release", base, first), ""), http.StatusNoContent)

	if got := claim(); got != 2 {
		t.Errorf("expected item 2 next, got %d", got)
	}
	if got := claim(); got != first {
		t.Errorf("expected released item %d last, got %d", first, got)
	}
}

func TestDeleteQueueEndpoint(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/queues/jobs"

	expectStatus(t, do(t, http.MethodPost, base+"/items", `{"payload":{}}`), http.StatusCreated)
	expectStatus(t, do(t, http.MethodDelete, base, ""), http.StatusNoContent)

	resp := do(t, http.MethodGet, base, "")
	var count struct {
		Count int64 `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&count)
	if count.Count != 0 {
		t.Errorf("expected empty queue after delete, got %d", count.Count)
	}
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t)
	base := srv.URL + "/api/v1/queues"

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, "/jobs/items", `{`, http.StatusBadRequest},
		{"missing payload", http.MethodPost, "/jobs/items", `{}`, http.StatusBadRequest},
		{"invalid payload", http.MethodPost, "/jobs/items", `{"payload":"x"`, http.StatusBadRequest},
		{"braces in name", http.MethodPost, "/%7Bjobs%7D/items", `{"payload":1}`, http.StatusBadRequest},
		{"name too long", http.MethodPost, "/" + strings.Repeat("j", queue.MaxNameLen+1) + "/items", `{"payload":1}`, http.StatusBadRequest},
		{"space in name", http.MethodGet, "/my%20jobs", "", http.StatusBadRequest},
		{"invalid item id", http.MethodDelete, "/jobs/items/abc", "", http.StatusBadRequest},
		{"zero item id", http.MethodPost, "/jobs/items/0/release", "", http.StatusBadRequest},
		{"invalid lease body", http.MethodPost, "/jobs/claims", `{"lease_seconds":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, tt.method, base+tt.path, tt.body), tt.want)
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/health", "")
	expectStatus(t, resp, http.StatusOK)

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body)
	}
}
