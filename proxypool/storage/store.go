package storage

import (
	"sort"
	"sync"
	"time"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// Store 是代理池的规范存储：内存索引加落盘快照。
// 身份键 (ip, port, protocol) 在池内全局唯一。
type Store struct {
	mu      sync.RWMutex
	proxies map[string]*model.Proxy

	dataDir          string
	failureThreshold int

	// sink 接收每一条状态迁移事件（合并产生的新代理与探测结果）。
	// 它必须是非阻塞的；Store 不关心消费方的快慢。
	sink func(model.StatusTransition)

	now func() time.Time
}

// New 创建一个空的 Store。failureThreshold 是连续失败转为 invalid 的阈值。
func New(dataDir string, failureThreshold int) *Store {
	return &Store{
		proxies:          make(map[string]*model.Proxy),
		dataDir:          dataDir,
		failureThreshold: failureThreshold,
		now:              time.Now,
	}
}

// SetSink 注册迁移事件的消费入口。必须在任何写操作之前调用。
func (s *Store) SetSink(fn func(model.StatusTransition)) {
	s.sink = fn
}

func (s *Store) emit(t model.StatusTransition) {
	if s.sink != nil {
		s.sink(t)
	}
}

// Merge 将一批候选代理幂等地合并进池。
// 已存在的身份键保持原有状态与计数不变（绝不把已知 valid 退回 untested）；
// 新身份以 untested 状态插入并记 first_seen。返回新插入的数量。
func (s *Store) Merge(batch []*model.Proxy) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, p := range batch {
		key := p.Key()
		if _, exists := s.proxies[key]; exists {
			continue
		}
		np := p.Clone()
		np.Status = model.StatusUntested
		np.FailCount = 0
		np.SuccessCount = 0
		if np.Anonymity == "" {
			np.Anonymity = model.AnonymityUnknown
		}
		np.FirstSeen = s.now()
		s.proxies[key] = np
		added++

		s.emit(model.StatusTransition{
			Key:      key,
			Source:   np.Source,
			Protocol: np.Protocol,
			From:     "",
			To:       model.StatusUntested,
			At:       np.FirstSeen,
			Reason:   model.ReasonFetched,
		})
	}
	return added
}

// Apply 按状态机规则应用一次探测结果并发出迁移事件。
// 结果对应的代理已不在池中时被静默忽略。
func (s *Store) Apply(o model.ProbeOutcome) (model.StatusTransition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proxies[o.Key]
	if !ok {
		return model.StatusTransition{}, false
	}

	prev := p.Status
	at := o.At
	if at.IsZero() {
		at = s.now()
	}
	p.LastChecked = at

	var next model.Status
	if o.Success {
		next = model.StatusValid
		p.FailCount = 0
		p.SuccessCount++
		if o.Latency > 0 {
			p.ResponseTime = o.Latency
		}
		if o.Anonymity != "" && o.Anonymity != model.AnonymityUnknown {
			p.Anonymity = o.Anonymity
		}
	} else {
		p.FailCount++
		if p.FailCount >= s.failureThreshold {
			next = model.StatusInvalid
		} else {
			next = model.StatusTempInvalid
		}
		// invalid 代理的又一次失败不会使它回退。
		if prev == model.StatusInvalid {
			next = model.StatusInvalid
		}
	}

	if !prev.CanTransition(next) {
		// 迁移表之外的组合不可达；保险起见丢弃而不是破坏不变量。
		l := logger.WithComponent("ProxyPool/Storage")
		l.Warn().
			Str("key", o.Key).Str("from", string(prev)).Str("to", string(next)).
			Msg("Rejected illegal status transition.")
		return model.StatusTransition{}, false
	}
	p.Status = next

	t := model.StatusTransition{
		Key:      o.Key,
		Source:   p.Source,
		Protocol: p.Protocol,
		From:     prev,
		To:       next,
		At:       at,
		Reason:   o.Reason,
	}
	s.emit(t)
	return t, true
}

// Get 返回指定身份键的代理快照。
func (s *Store) Get(key string) (*model.Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[key]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Filter 描述一次查询。零值字段表示不过滤。
type Filter struct {
	Status   model.Status
	Protocol string
	Country  string
	Limit    int
}

// Query 返回满足过滤条件的代理快照，按成功次数降序、响应时间升序排列。
func (s *Store) Query(f Filter) []*model.Proxy {
	s.mu.RLock()
	var out []*model.Proxy
	for _, p := range s.proxies {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Protocol != "" && p.Protocol != f.Protocol {
			continue
		}
		if f.Country != "" && p.Country != f.Country {
			continue
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessCount != out[j].SuccessCount {
			return out[i].SuccessCount > out[j].SuccessCount
		}
		if out[i].ResponseTime != out[j].ResponseTime {
			return out[i].ResponseTime < out[j].ResponseTime
		}
		return out[i].Key() < out[j].Key()
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Select 返回满足谓词的代理快照，供调度策略做到期筛选。
func (s *Store) Select(keep func(*model.Proxy) bool) []*model.Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Proxy
	for _, p := range s.proxies {
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Stats 是池的即时统计。
type Stats struct {
	Total           int                  `json:"total"`
	PerStatus       map[model.Status]int `json:"per_status"`
	PerProtocol     map[string]int       `json:"per_protocol"`
	AvgResponseTime time.Duration        `json:"avg_response_time"` // 仅统计 valid 代理
	Timestamp       time.Time            `json:"timestamp"`
}

// ValidCount 是 valid 代理数量的便捷访问。
func (st Stats) ValidCount() int {
	return st.PerStatus[model.StatusValid]
}

// Statistics 计算当前池的统计信息。
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:       len(s.proxies),
		PerStatus:   make(map[model.Status]int, len(model.AllStatuses)),
		PerProtocol: make(map[string]int),
		Timestamp:   s.now(),
	}
	for _, status := range model.AllStatuses {
		st.PerStatus[status] = 0
	}

	var validSum time.Duration
	for _, p := range s.proxies {
		st.PerStatus[p.Status]++
		st.PerProtocol[p.Protocol]++
		if p.Status == model.StatusValid {
			validSum += p.ResponseTime
		}
	}
	if n := st.PerStatus[model.StatusValid]; n > 0 {
		st.AvgResponseTime = validSum / time.Duration(n)
	}
	return st
}
