package scheduler

import (
	"sync"

	"proxypool_sentinel/proxypool/model"
)

// History 是任务记录的有界环形缓冲：只保留最近 max 条，更旧的直接丢弃。
type History struct {
	mu      sync.Mutex
	records []model.TaskRecord
	max     int
}

// NewHistory 创建容量为 max 的历史缓冲。
func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Append 追加一条任务记录，必要时挤掉最旧的一条。
func (h *History) Append(rec model.TaskRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	if len(h.records) > h.max {
		h.records = h.records[len(h.records)-h.max:]
	}
}

// Recent 返回最近的记录，最新的在前。
func (h *History) Recent() []model.TaskRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.TaskRecord, len(h.records))
	for i, rec := range h.records {
		out[len(h.records)-1-i] = rec
	}
	return out
}

// Last 返回指定任务种类最近的一条记录。
func (h *History) Last(kind model.TaskKind) (model.TaskRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Task == kind {
			return h.records[i], true
		}
	}
	return model.TaskRecord{}, false
}
