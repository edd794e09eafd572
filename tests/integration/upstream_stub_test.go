package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RecordedRequest 捕获上游收到的请求，便于断言代理与缓存行为。
type RecordedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// upstreamStub 模拟一个最小的 npm registry：packument、tarball 与 audit 接口。
type upstreamStub struct {
	URL string

	mu       sync.Mutex
	requests []RecordedRequest
	tarball  []byte
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()

	stub := &upstreamStub{tarball: []byte("left-pad-tarball")}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /left-pad", stub.handlePackument)
	mux.HandleFunc("GET /left-pad/-/{file}", stub.handleTarball)
	mux.HandleFunc("POST /-/npm/v1/security/{rest...}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"advisories":{}}`))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.requests = append(stub.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Body: body})
		stub.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	stub.URL = srv.URL
	return stub
}

func (s *upstreamStub) handlePackument(w http.ResponseWriter, _ *http.Request) {
	version := func(v string) map[string]any {
		return map[string]any{
			"name":    "left-pad",
			"version": v,
			"dist": map[string]any{
				"tarball": fmt.Sprintf("%s/left-pad/-/left-pad-%s.tgz", s.URL, v),
			},
		}
	}
	doc := map[string]any{
		"name":      "left-pad",
		"dist-tags": map[string]string{"latest": "1.3.0"},
		"versions": map[string]any{
			"1.2.0": version("1.2.0"),
			"1.3.0": version("1.3.0"),
		},
		"time": map[string]string{
			"1.2.0": "2018-01-01T00:00:00.000Z",
			"1.3.0": "2018-04-01T00:00:00.000Z",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"left-pad-v1"`)
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *upstreamStub) handleTarball(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("file") != "left-pad-1.3.0.tgz" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(s.tarball)
}

// Requests 返回按时间顺序记录的上游请求副本。
func (s *upstreamStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *upstreamStub) count(method, path string) int {
	n := 0
	for _, req := range s.Requests() {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}
