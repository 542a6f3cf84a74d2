package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// Tracker 是纯观察者：消费 PoolStore 与 Validator 发出的迁移事件，
// 维护每个代理的有序历史并按需计算分析指标。它从不回写 PoolStore，
// 消费慢或停摆只会丢事件，绝不影响验证的正确性。
type Tracker struct {
	events chan model.StatusTransition
	done   chan struct{}
	wg     sync.WaitGroup

	dropped atomic.Uint64

	mu           sync.RWMutex
	history      map[string][]model.StatusTransition
	firstSeen    map[string]time.Time
	firstFailure map[string]time.Time
	invalidAt    map[string]time.Time
	perSource    map[string]*sourceCounter
	recent       []time.Time // 最近事件时间戳，用于窗口内迁移速率

	now func() time.Time
}

type sourceCounter struct {
	Fetched     int
	BecameValid int
}

// recentWindow 限定 recent 时间戳的最大保留跨度。
const recentWindow = 24 * time.Hour

// NewTracker 创建一个 Tracker。buffer 是事件队列容量。
func NewTracker(buffer int) *Tracker {
	if buffer <= 0 {
		buffer = 4096
	}
	return &Tracker{
		events:       make(chan model.StatusTransition, buffer),
		done:         make(chan struct{}),
		history:      make(map[string][]model.StatusTransition),
		firstSeen:    make(map[string]time.Time),
		firstFailure: make(map[string]time.Time),
		invalidAt:    make(map[string]time.Time),
		perSource:    make(map[string]*sourceCounter),
		now:          time.Now,
	}
}

// Start 启动单消费者循环。
func (t *Tracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case ev := <-t.events:
				t.apply(ev)
			case <-t.done:
				// 排空剩余缓冲后退出。
				for {
					select {
					case ev := <-t.events:
						t.apply(ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop 停止消费循环并等待其退出。
func (t *Tracker) Stop() {
	close(t.done)
	t.wg.Wait()
	if n := t.dropped.Load(); n > 0 {
		l := logger.WithComponent("ProxyPool/Lifecycle")
		l.Warn().Int64("dropped", int64(n)).
			Msg("Lifecycle events were dropped under backpressure.")
	}
}

// Publish 非阻塞地投递一条迁移事件。队列满时事件被丢弃并计数。
func (t *Tracker) Publish(ev model.StatusTransition) {
	select {
	case t.events <- ev:
	default:
		t.dropped.Add(1)
	}
}

// Dropped 返回因背压被丢弃的事件数。
func (t *Tracker) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Tracker) apply(ev model.StatusTransition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history[ev.Key] = append(t.history[ev.Key], ev)

	src := ev.Source
	if src == "" {
		src = "unknown"
	}
	counter := t.perSource[src]
	if counter == nil {
		counter = &sourceCounter{}
		t.perSource[src] = counter
	}

	switch {
	case ev.Reason == model.ReasonFetched:
		if _, ok := t.firstSeen[ev.Key]; !ok {
			t.firstSeen[ev.Key] = ev.At
		}
		counter.Fetched++
	case ev.To == model.StatusValid && ev.From != model.StatusValid:
		counter.BecameValid++
	}

	if ev.Reason.IsFailure() {
		if _, ok := t.firstFailure[ev.Key]; !ok {
			t.firstFailure[ev.Key] = ev.At
		}
	}
	if ev.To == model.StatusInvalid && ev.From != model.StatusInvalid {
		if _, ok := t.invalidAt[ev.Key]; !ok {
			t.invalidAt[ev.Key] = ev.At
		}
	}

	t.recent = append(t.recent, ev.At)
	t.trimRecentLocked()
}

// trimRecentLocked 丢弃超出保留跨度的时间戳。必须持有写锁。
func (t *Tracker) trimRecentLocked() {
	cutoff := t.now().Add(-recentWindow)
	i := 0
	for ; i < len(t.recent); i++ {
		if !t.recent[i].Before(cutoff) {
			break
		}
	}
	if i > 0 {
		t.recent = append(t.recent[:0], t.recent[i:]...)
	}
}

// History 返回指定代理的迁移历史副本。
func (t *Tracker) History(key string) []model.StatusTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.history[key]
	out := make([]model.StatusTransition, len(h))
	copy(out, h)
	return out
}

// SourceRate 是单个来源的有效率。
type SourceRate struct {
	Fetched     int     `json:"fetched"`
	BecameValid int     `json:"became_valid"`
	ValidRate   float64 `json:"valid_rate"`
}

// Analytics 是按需计算的生命周期指标。
type Analytics struct {
	TrackedProxies        int                   `json:"tracked_proxies"`
	TransitionsTo         map[model.Status]int  `json:"transitions_to"`           // 进入各状态的迁移次数
	AvgTimeToFirstFailure time.Duration         `json:"avg_time_to_first_failure"`
	AvgLifecycle          time.Duration         `json:"avg_lifecycle"` // first_seen 到 invalid，仍活跃按 now 计
	TransitionRatePerHour float64               `json:"transition_rate_per_hour"`
	SourceRates           map[string]SourceRate `json:"source_rates"`
	DroppedEvents         uint64                `json:"dropped_events"`
	GeneratedAt           time.Time             `json:"generated_at"`
}

// Snapshot 计算当前的生命周期分析。window 限定迁移速率的统计窗口。
func (t *Tracker) Snapshot(window time.Duration) Analytics {
	if window <= 0 || window > recentWindow {
		window = time.Hour
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	a := Analytics{
		TrackedProxies: len(t.firstSeen),
		TransitionsTo:  make(map[model.Status]int),
		SourceRates:    make(map[string]SourceRate, len(t.perSource)),
		DroppedEvents:  t.dropped.Load(),
		GeneratedAt:    now,
	}

	for _, h := range t.history {
		for _, ev := range h {
			if ev.To != ev.From {
				a.TransitionsTo[ev.To]++
			}
		}
	}

	var ttfSum time.Duration
	ttfCount := 0
	for key, seen := range t.firstSeen {
		if failAt, ok := t.firstFailure[key]; ok && failAt.After(seen) {
			ttfSum += failAt.Sub(seen)
			ttfCount++
		}
	}
	if ttfCount > 0 {
		a.AvgTimeToFirstFailure = ttfSum / time.Duration(ttfCount)
	}

	var lifeSum time.Duration
	lifeCount := 0
	for key, seen := range t.firstSeen {
		end := now
		if deadAt, ok := t.invalidAt[key]; ok {
			end = deadAt
		}
		if end.After(seen) {
			lifeSum += end.Sub(seen)
			lifeCount++
		}
	}
	if lifeCount > 0 {
		a.AvgLifecycle = lifeSum / time.Duration(lifeCount)
	}

	cutoff := now.Add(-window)
	inWindow := 0
	for _, ts := range t.recent {
		if !ts.Before(cutoff) {
			inWindow++
		}
	}
	a.TransitionRatePerHour = float64(inWindow) / window.Hours()

	for src, c := range t.perSource {
		rate := SourceRate{Fetched: c.Fetched, BecameValid: c.BecameValid}
		if c.Fetched > 0 {
			rate.ValidRate = float64(c.BecameValid) / float64(c.Fetched)
		}
		a.SourceRates[src] = rate
	}
	return a
}
