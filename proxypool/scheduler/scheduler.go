package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/internal/shared/types"
	"proxypool_sentinel/proxypool/model"
)

// ErrTaskRunning 表示同类任务仍在执行，本次触发被拒绝。
var ErrTaskRunning = errors.New("task already running")

// ErrStopped 表示调度器已进入终态，不再接受任务。
var ErrStopped = errors.New("scheduler stopped")

// TaskFunc 是一种任务的执行体。返回的计数进TaskRecord摘要；
// 返回错误或panic都只会把本次记为失败，不会中断调度循环。
type TaskFunc func(ctx context.Context) (map[string]int, error)

// TaskSpec 描述一种任务：独立的间隔、可选的硬墙钟预算和执行体。
type TaskSpec struct {
	Kind     model.TaskKind
	Interval time.Duration
	Budget   time.Duration // 0 表示不设预算
	Run      TaskFunc
}

// Notification 是一次阈值告警。
type Notification struct {
	Kind    string    `json:"kind"` // "low_valid_proxies" | "task_failures"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Scheduler 编排 fetch/validate/report/cleanup 四种周期任务。
// 每种任务同一时刻至多一个实例在执行；任务内部的失败被吸收为一条
// 失败的 TaskRecord；告警按边沿触发，条件持续期间不重复发。
type Scheduler struct {
	specs   map[model.TaskKind]*taskEntry
	history *History

	notifCfg   types.NotificationConf
	notify     func(Notification)
	validCount func() int

	// 边沿触发状态
	notifMu        sync.Mutex
	lowValidActive bool
	consecFails    map[model.TaskKind]int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	stopMu   sync.RWMutex // 保证 RunNow 的 stopped 检查和 wg.Add 对 Stop 原子可见
	stopped  atomic.Bool
}

type taskEntry struct {
	spec    TaskSpec
	running atomic.Bool
}

// New 创建一个调度器。notify 为 nil 时告警仅打日志。
func New(historySize int, notifCfg types.NotificationConf, validCount func() int, notify func(Notification)) *Scheduler {
	if notify == nil {
		notify = func(n Notification) {
			l := logger.WithComponent("ProxyPool/Scheduler")
			l.Warn().Str("kind", n.Kind).Msg(n.Message)
		}
	}
	return &Scheduler{
		specs:       make(map[model.TaskKind]*taskEntry),
		history:     NewHistory(historySize),
		notifCfg:    notifCfg,
		notify:      notify,
		validCount:  validCount,
		consecFails: make(map[model.TaskKind]int),
		stopChan:    make(chan struct{}),
	}
}

// Register 注册一种任务。同一种类只能注册一次。
func (s *Scheduler) Register(spec TaskSpec) error {
	if spec.Run == nil {
		return fmt.Errorf("task %s has no run func", spec.Kind)
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("task %s has non-positive interval %v", spec.Kind, spec.Interval)
	}
	if _, dup := s.specs[spec.Kind]; dup {
		return fmt.Errorf("task %s already registered", spec.Kind)
	}
	s.specs[spec.Kind] = &taskEntry{spec: spec}
	return nil
}

// Start 启动调度循环。循环本身从不直接阻塞在网络I/O上。
func (s *Scheduler) Start() {
	l := logger.WithComponent("ProxyPool/Scheduler")

	tickers := make(map[model.TaskKind]*time.Ticker, len(s.specs))
	tick := func(kind model.TaskKind) <-chan time.Time {
		entry, ok := s.specs[kind]
		if !ok {
			return nil // select 永远不会命中 nil channel
		}
		t := time.NewTicker(entry.spec.Interval)
		tickers[kind] = t
		l.Info().Str("task", string(kind)).Dur("interval", entry.spec.Interval).Msg("Task scheduled.")
		return t.C
	}

	fetchC := tick(model.TaskFetch)
	validateC := tick(model.TaskValidate)
	reportC := tick(model.TaskReport)
	cleanupC := tick(model.TaskCleanup)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-fetchC:
				go s.trigger(model.TaskFetch)
			case <-validateC:
				go s.trigger(model.TaskValidate)
			case <-reportC:
				go s.trigger(model.TaskReport)
			case <-cleanupC:
				go s.trigger(model.TaskCleanup)
			case <-s.stopChan:
				for _, t := range tickers {
					t.Stop()
				}
				l.Info().Msg("Stop signal received. Timers cancelled.")
				return
			}
		}
	}()
}

// trigger 是定时触发入口：同类任务还在跑时本轮tick被跳过。
func (s *Scheduler) trigger(kind model.TaskKind) {
	if err := s.RunNow(kind); errors.Is(err, ErrTaskRunning) {
		l := logger.WithComponent("ProxyPool/Scheduler")
		l.Debug().Str("task", string(kind)).Msg("Previous run still active, tick skipped.")
	}
}

// RunNow 同步执行一种任务。同类任务正在执行时返回 ErrTaskRunning；
// 调度器已停止时返回 ErrStopped。任务自身的失败不通过返回值上抛，
// 而是进入任务历史。
func (s *Scheduler) RunNow(kind model.TaskKind) error {
	entry, ok := s.specs[kind]
	if !ok {
		return fmt.Errorf("unknown task kind %q", kind)
	}

	// stopped 检查与 wg.Add 必须在同一临界区里：否则 Stop 可能在两者
	// 之间完成 wg.Wait，让任务在终态之后才开始执行。
	s.stopMu.RLock()
	if s.stopped.Load() {
		s.stopMu.RUnlock()
		return ErrStopped
	}
	if !entry.running.CompareAndSwap(false, true) {
		s.stopMu.RUnlock()
		return fmt.Errorf("%w: %s", ErrTaskRunning, kind)
	}
	s.wg.Add(1)
	s.stopMu.RUnlock()

	defer s.wg.Done()
	defer entry.running.Store(false)

	s.execute(entry)
	return nil
}

// execute 运行任务体并落一条 TaskRecord。这里是最外层错误边界：
// 任何组件错误或panic都被降级为失败记录加一条日志。
func (s *Scheduler) execute(entry *taskEntry) {
	l := logger.WithComponent("ProxyPool/Scheduler")
	kind := entry.spec.Kind

	rec := model.TaskRecord{
		ID:        uuid.NewString(),
		Task:      kind,
		StartedAt: time.Now(),
	}

	ctx := context.Background()
	cancel := func() {}
	if entry.spec.Budget > 0 {
		ctx, cancel = context.WithTimeout(ctx, entry.spec.Budget)
	}
	defer cancel()

	counts, err := s.runGuarded(ctx, entry.spec.Run)
	rec.Duration = time.Since(rec.StartedAt)
	rec.Counts = counts

	if err != nil {
		rec.Outcome = model.TaskFailure
		rec.Error = err.Error()
		l.Error().Err(err).Str("task", string(kind)).Dur("duration", rec.Duration).Msg("Task failed.")
	} else {
		rec.Outcome = model.TaskSuccess
		l.Info().Str("task", string(kind)).Dur("duration", rec.Duration).
			Interface("counts", counts).Msg("Task finished.")
	}
	s.history.Append(rec)

	s.afterTask(kind, err)
}

// runGuarded 把panic折叠为错误。
func (s *Scheduler) runGuarded(ctx context.Context, run TaskFunc) (counts map[string]int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return run(ctx)
}

// afterTask 维护边沿触发的告警状态。
func (s *Scheduler) afterTask(kind model.TaskKind, taskErr error) {
	if !s.notifCfg.Enabled {
		return
	}

	s.notifMu.Lock()
	defer s.notifMu.Unlock()

	if s.notifCfg.NotifyOnErrors {
		if taskErr != nil {
			s.consecFails[kind]++
			// 恰好跨过阈值时发一次，之后持续失败不再重复。
			if s.consecFails[kind] == s.notifCfg.ConsecutiveFailures {
				s.notify(Notification{
					Kind:    "task_failures",
					Message: fmt.Sprintf("task %s failed %d consecutive times: %v", kind, s.consecFails[kind], taskErr),
					At:      time.Now(),
				})
			}
		} else {
			s.consecFails[kind] = 0
		}
	}

	if s.notifCfg.NotifyOnLowProxies && s.validCount != nil {
		count := s.validCount()
		if count < s.notifCfg.MinValidProxiesThreshold {
			if !s.lowValidActive {
				s.lowValidActive = true
				s.notify(Notification{
					Kind:    "low_valid_proxies",
					Message: fmt.Sprintf("valid proxy count %d is below threshold %d", count, s.notifCfg.MinValidProxiesThreshold),
					At:      time.Now(),
				})
			}
		} else {
			s.lowValidActive = false
		}
	}
}

// Running reports whether the given task kind is currently executing.
func (s *Scheduler) Running(kind model.TaskKind) bool {
	entry, ok := s.specs[kind]
	return ok && entry.running.Load()
}

// Stopped reports whether the scheduler reached its terminal state.
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// History 返回任务历史缓冲。
func (s *Scheduler) History() *History {
	return s.history
}

// Stop 协作式关停：立即取消所有定时器，等待在途任务收尾，
// 然后进入终态。之后的 RunNow 一律被拒绝。
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.stopMu.Lock()
		s.stopped.Store(true)
		s.stopMu.Unlock()
		close(s.stopChan)
		s.wg.Wait()
		l := logger.WithComponent("ProxyPool/Scheduler")
		l.Info().Msg("Scheduler stopped.")
	})
}
