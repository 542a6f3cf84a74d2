package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"proxypool_sentinel/proxypool/lifecycle"
	"proxypool_sentinel/proxypool/model"
	"proxypool_sentinel/proxypool/storage"
)

// PoolReader 是观测API需要的只读视图。仪表盘永远不会改写池。
type PoolReader interface {
	Statistics() storage.Stats
	Query(f storage.Filter) []*model.Proxy
	TaskHistory() []model.TaskRecord
	ProxyHistory(key string) []model.StatusTransition
	Analytics(window time.Duration) lifecycle.Analytics
}

// Handler 持有只读视图并服务观测端点。
type Handler struct {
	pool PoolReader
}

func NewHandler(pool PoolReader) *Handler {
	return &Handler{pool: pool}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleStatus 处理 GET /api/status 请求
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.pool.Statistics())
}

// HandleProxies 处理 GET /api/proxies?status=&protocol=&country=&limit= 请求
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	f := storage.Filter{
		Protocol: q.Get("protocol"),
		Country:  q.Get("country"),
	}
	if s := q.Get("status"); s != "" {
		status := model.Status(s)
		if !status.IsValid() {
			http.Error(w, "unknown status "+s, http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	proxies := h.pool.Query(f)
	if proxies == nil {
		proxies = []*model.Proxy{}
	}
	writeJSON(w, proxies)
}

// HandleHistory 处理 GET /api/history 请求，返回最近的任务记录。
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := h.pool.TaskHistory()
	if records == nil {
		records = []model.TaskRecord{}
	}
	writeJSON(w, records)
}

// HandleProxyHistory 处理 GET /api/proxies/history?key= 请求。
func (h *Handler) HandleProxyHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}
	history := h.pool.ProxyHistory(key)
	if history == nil {
		history = []model.StatusTransition{}
	}
	writeJSON(w, history)
}

// HandleAnalytics 处理 GET /api/analytics?window_hours= 请求。
func (h *Handler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	window := time.Hour
	if s := r.URL.Query().Get("window_hours"); s != "" {
		h, err := strconv.Atoi(s)
		if err != nil || h < 1 {
			http.Error(w, "invalid window_hours", http.StatusBadRequest)
			return
		}
		window = time.Duration(h) * time.Hour
	}
	writeJSON(w, h.pool.Analytics(window))
}
