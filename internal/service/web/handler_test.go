package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"proxypool_sentinel/proxypool/lifecycle"
	"proxypool_sentinel/proxypool/model"
	"proxypool_sentinel/proxypool/storage"
)

// fakePool implements PoolReader with canned data.
type fakePool struct {
	stats   storage.Stats
	proxies []*model.Proxy
	lastQ   storage.Filter
	records []model.TaskRecord
	history map[string][]model.StatusTransition
	lastWin time.Duration
}

func (f *fakePool) Statistics() storage.Stats { return f.stats }
func (f *fakePool) Query(q storage.Filter) []*model.Proxy {
	f.lastQ = q
	return f.proxies
}
func (f *fakePool) TaskHistory() []model.TaskRecord { return f.records }
func (f *fakePool) ProxyHistory(key string) []model.StatusTransition {
	return f.history[key]
}
func (f *fakePool) Analytics(window time.Duration) lifecycle.Analytics {
	f.lastWin = window
	return lifecycle.Analytics{TrackedProxies: 7}
}

func TestHandleStatus(t *testing.T) {
	pool := &fakePool{stats: storage.Stats{Total: 12, PerStatus: map[model.Status]int{model.StatusValid: 4}}}
	h := NewHandler(pool)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got storage.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.Total != 12 || got.PerStatus[model.StatusValid] != 4 {
		t.Errorf("stats = %+v", got)
	}
}

func TestHandleStatusRejectsPost(t *testing.T) {
	h := NewHandler(&fakePool{})
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleProxiesFilters(t *testing.T) {
	pool := &fakePool{proxies: []*model.Proxy{{IP: "1.1.1.1", Port: 80, Protocol: "http", Status: model.StatusValid}}}
	h := NewHandler(pool)

	rec := httptest.NewRecorder()
	h.HandleProxies(rec, httptest.NewRequest(http.MethodGet, "/api/proxies?status=valid&protocol=http&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if pool.lastQ.Status != model.StatusValid || pool.lastQ.Protocol != "http" || pool.lastQ.Limit != 5 {
		t.Errorf("filter passed through = %+v", pool.lastQ)
	}
}

func TestHandleProxiesBadParams(t *testing.T) {
	h := NewHandler(&fakePool{})

	for _, url := range []string{
		"/api/proxies?status=weird",
		"/api/proxies?limit=abc",
		"/api/proxies?limit=-1",
	} {
		rec := httptest.NewRecorder()
		h.HandleProxies(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rec.Code)
		}
	}
}

func TestHandleProxiesEmptyIsJSONArray(t *testing.T) {
	h := NewHandler(&fakePool{})
	rec := httptest.NewRecorder()
	h.HandleProxies(rec, httptest.NewRequest(http.MethodGet, "/api/proxies", nil))

	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("empty result body = %q, want a JSON array", body)
	}
}

func TestHandleProxyHistory(t *testing.T) {
	key := "1.1.1.1:80/http"
	pool := &fakePool{history: map[string][]model.StatusTransition{
		key: {{Key: key, To: model.StatusUntested, Reason: model.ReasonFetched}},
	}}
	h := NewHandler(pool)

	rec := httptest.NewRecorder()
	h.HandleProxyHistory(rec, httptest.NewRequest(http.MethodGet, "/api/proxies/history?key="+key, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []model.StatusTransition
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || len(got) != 1 {
		t.Errorf("history body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.HandleProxyHistory(rec, httptest.NewRequest(http.MethodGet, "/api/proxies/history", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing key: status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalyticsWindow(t *testing.T) {
	pool := &fakePool{}
	h := NewHandler(pool)

	rec := httptest.NewRecorder()
	h.HandleAnalytics(rec, httptest.NewRequest(http.MethodGet, "/api/analytics?window_hours=6", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if pool.lastWin != 6*time.Hour {
		t.Errorf("window = %v, want 6h", pool.lastWin)
	}

	rec = httptest.NewRecorder()
	h.HandleAnalytics(rec, httptest.NewRequest(http.MethodGet, "/api/analytics?window_hours=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero window: status = %d, want 400", rec.Code)
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	protected := basicAuthMiddleware(inner, "admin", "secret")

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "wrong")
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "secret")
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid credentials: status = %d, want 200", rec.Code)
	}

	// Auth disabled when credentials are not configured.
	open := basicAuthMiddleware(inner, "", "")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("open server: status = %d, want 200", rec.Code)
	}
}
