package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"proxypool_sentinel/internal/shared/config"
	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/internal/shared/types"
	"proxypool_sentinel/proxypool/export"
	"proxypool_sentinel/proxypool/fetcher"
	"proxypool_sentinel/proxypool/lifecycle"
	"proxypool_sentinel/proxypool/model"
	"proxypool_sentinel/proxypool/scheduler"
	"proxypool_sentinel/proxypool/storage"
	"proxypool_sentinel/proxypool/validator"
)

// Manager 是代理池模块的总控制器：把 Fetcher、Store、Validator、
// Tracker、Exporter 装配到调度器的四种任务上，并对外提供消费边界
// (Acquire / ReportUsage) 与只读观测接口。
type Manager struct {
	cfg     *types.Config
	sources []config.Source

	store     *storage.Store
	fetcher   *fetcher.Fetcher
	validator *validator.Validator
	tracker   *lifecycle.Tracker
	exporter  *export.Exporter
	scheduler *scheduler.Scheduler
}

// NewManager 创建并装配代理池管理器。notify 为 nil 时告警走默认日志。
func NewManager(cfg *types.Config, sources []config.Source, notify func(scheduler.Notification)) *Manager {
	st := storage.New(cfg.CommonConf.DataDir, cfg.PoolConf.FailureThreshold)
	tr := lifecycle.NewTracker(cfg.PoolConf.EventBufferSize)
	st.SetSink(tr.Publish)

	prober := validator.NewHTTPProber(cfg.PoolConf.ProbeURL, cfg.ProbeTimeout())

	m := &Manager{
		cfg:       cfg,
		sources:   sources,
		store:     st,
		fetcher:   fetcher.New(time.Duration(cfg.FetchScheduleConf.FeedTimeoutSec)*time.Second, cfg.FetchScheduleConf.FeedRetries),
		validator: validator.New(prober, cfg.PoolConf.ProbeConcurrency),
		tracker:   tr,
		exporter:  export.New(cfg.CommonConf.ExportDir),
	}

	sched := scheduler.New(cfg.PoolConf.TaskHistorySize, cfg.NotificationConf, func() int {
		return st.Statistics().ValidCount()
	}, notify)
	m.scheduler = sched
	m.registerTasks()
	return m
}

func (m *Manager) registerTasks() {
	hours := func(h int) time.Duration { return time.Duration(h) * time.Hour }

	if m.cfg.FetchScheduleConf.Enabled {
		_ = m.scheduler.Register(scheduler.TaskSpec{
			Kind:     model.TaskFetch,
			Interval: hours(m.cfg.FetchScheduleConf.IntervalHours),
			Run:      m.runFetch,
		})
	}
	if m.cfg.ValidationScheduleConf.Enabled {
		_ = m.scheduler.Register(scheduler.TaskSpec{
			Kind:     model.TaskValidate,
			Interval: hours(m.cfg.ValidationScheduleConf.IntervalHours),
			Budget:   m.cfg.ValidationBudget(),
			Run:      m.runValidate,
		})
	}
	if m.cfg.ReportScheduleConf.Enabled {
		_ = m.scheduler.Register(scheduler.TaskSpec{
			Kind:     model.TaskReport,
			Interval: hours(m.cfg.ReportScheduleConf.IntervalHours),
			Run:      m.runReport,
		})
	}
	if m.cfg.CleanupScheduleConf.Enabled {
		_ = m.scheduler.Register(scheduler.TaskSpec{
			Kind:     model.TaskCleanup,
			Interval: hours(m.cfg.CleanupScheduleConf.IntervalHours),
			Budget:   m.cfg.ValidationBudget(),
			Run:      m.runCleanup,
		})
	}
}

// Start 加载快照并启动后台调度。
func (m *Manager) Start() {
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Msg("Manager starting...")

	if err := m.store.Load(); err != nil {
		l.Error().Err(err).Msg("Failed to load snapshots. Starting with an empty pool.")
	}
	m.tracker.Start()
	m.scheduler.Start()
}

// Stop 协作式关停：先停调度器（等待在途任务），再停事件消费，最后落盘。
func (m *Manager) Stop() {
	l := logger.WithComponent("ProxyPool/Manager")
	m.scheduler.Stop()
	m.tracker.Stop()
	if err := m.store.Save(); err != nil {
		l.Error().Err(err).Msg("Failed to save snapshots on shutdown.")
	}
	l.Info().Msg("ProxyPool Manager gracefully stopped.")
}

// ---- 任务实现。错误只向调度器边界返回，由它降级为失败记录。 ----

// runFetch 拉取所有feed，合并进池并落盘。
func (m *Manager) runFetch(ctx context.Context) (map[string]int, error) {
	batch := m.fetcher.Fetch(ctx, m.sources)
	if max := m.cfg.FetchScheduleConf.MaxProxiesPerFetch; max > 0 && len(batch) > max {
		batch = batch[:max]
	}
	added := m.store.Merge(batch)

	counts := map[string]int{"fetched": len(batch), "added": added}
	if err := m.store.Save(); err != nil {
		// 持久化失败：本次任务记失败，内存状态不回滚，下轮重试。
		return counts, fmt.Errorf("snapshot save failed: %w", err)
	}
	return counts, nil
}

// runValidate 挑选到期代理并批量探测。
// 常规周期覆盖 untested、到复检期的 valid、过了冷却的 temp_invalid；
// invalid 代理只走 cleanup 的显式重试通道。
func (m *Manager) runValidate(ctx context.Context) (map[string]int, error) {
	now := time.Now()
	recheck := time.Duration(m.cfg.PoolConf.RecheckValidHours) * time.Hour
	cooldown := time.Duration(m.cfg.ValidationScheduleConf.RetryTempInvalidIntervalHours) * time.Hour

	due := m.store.Select(func(p *model.Proxy) bool {
		switch p.Status {
		case model.StatusUntested:
			return true
		case model.StatusValid:
			return now.Sub(p.LastChecked) >= recheck
		case model.StatusTempInvalid:
			return now.Sub(p.LastChecked) >= cooldown
		}
		return false
	})
	sortByLastChecked(due)
	if batch := m.cfg.ValidationScheduleConf.BatchSize; len(due) > batch {
		due = due[:batch]
	}

	return m.probeAndApply(ctx, due)
}

// runCleanup 重试过了冷却窗口的 invalid 代理，并归档超过保留期的。
func (m *Manager) runCleanup(ctx context.Context) (map[string]int, error) {
	now := time.Now()
	cooldown := time.Duration(m.cfg.FetchScheduleConf.RetryFailedIntervalHours) * time.Hour

	retry := m.store.Select(func(p *model.Proxy) bool {
		return p.Status == model.StatusInvalid && now.Sub(p.LastChecked) >= cooldown
	})
	sortByLastChecked(retry)
	if batch := m.cfg.ValidationScheduleConf.BatchSize; len(retry) > batch {
		retry = retry[:batch]
	}

	counts, err := m.probeAndApply(ctx, retry)
	if err != nil {
		return counts, err
	}

	retention := time.Duration(m.cfg.PoolConf.RetentionDays) * 24 * time.Hour
	archived, err := m.store.ArchiveInvalid(retention)
	counts["archived"] = archived
	if err != nil {
		return counts, fmt.Errorf("archive failed: %w", err)
	}
	if err := m.store.Save(); err != nil {
		return counts, fmt.Errorf("snapshot save failed: %w", err)
	}
	return counts, nil
}

// probeAndApply 探测一批代理并把结果应用到池。
// 预算耗尽时 Validator 丢弃部分结果，这里不应用任何迁移。
func (m *Manager) probeAndApply(ctx context.Context, batch []*model.Proxy) (map[string]int, error) {
	counts := map[string]int{"probed": len(batch)}
	if len(batch) == 0 {
		return counts, nil
	}

	outcomes, err := m.validator.Run(ctx, batch)
	if err != nil {
		return counts, err
	}

	succeeded, failed := 0, 0
	for _, o := range outcomes {
		if _, ok := m.store.Apply(o); !ok {
			continue
		}
		if o.Success {
			succeeded++
		} else {
			failed++
		}
	}
	counts["succeeded"] = succeeded
	counts["failed"] = failed

	if err := m.store.Save(); err != nil {
		return counts, fmt.Errorf("snapshot save failed: %w", err)
	}
	return counts, nil
}

// runReport 按配置的格式导出当前 valid 子集。
func (m *Manager) runReport(ctx context.Context) (map[string]int, error) {
	_ = ctx
	valid := m.store.Query(storage.Filter{Status: model.StatusValid})

	counts := map[string]int{"valid": len(valid)}
	for _, name := range strings.Split(m.cfg.ReportScheduleConf.Formats, ",") {
		format, err := export.ParseFormat(strings.TrimSpace(name))
		if err != nil {
			return counts, err
		}
		res, err := m.exporter.Export(valid, model.StatusValid, format)
		if err != nil {
			return counts, fmt.Errorf("export %s failed: %w", format, err)
		}
		counts["exported_"+string(format)] = res.Count
	}
	return counts, nil
}

func sortByLastChecked(proxies []*model.Proxy) {
	// 最久未检查的优先。
	sort.Slice(proxies, func(i, j int) bool {
		return proxies[i].LastChecked.Before(proxies[j].LastChecked)
	})
}

// ---- 消费边界 ----

// Acquire 返回至多 n 个当前 valid 的代理，可按协议/国家过滤。
// 结果按成功次数降序、延迟升序排列。
func (m *Manager) Acquire(n int, protocol, country string) []*model.Proxy {
	return m.store.Query(storage.Filter{
		Status:   model.StatusValid,
		Protocol: protocol,
		Country:  country,
		Limit:    n,
	})
}

// ReportUsage 接收调用方的实际使用反馈，走与探测完全相同的迁移规则。
func (m *Manager) ReportUsage(key string, ok bool) error {
	reason := model.ReasonUsageSuccess
	if !ok {
		reason = model.ReasonUsageFailure
	}
	_, applied := m.store.Apply(model.ProbeOutcome{
		Key:     key,
		Success: ok,
		Reason:  reason,
		At:      time.Now(),
	})
	if !applied {
		return fmt.Errorf("unknown proxy %q", key)
	}
	return nil
}

// ---- 只读观测接口 ----

// Statistics 返回池的即时统计。
func (m *Manager) Statistics() storage.Stats {
	return m.store.Statistics()
}

// Query 返回满足过滤条件的代理快照。
func (m *Manager) Query(f storage.Filter) []*model.Proxy {
	return m.store.Query(f)
}

// TaskHistory 返回最近的任务记录，最新在前。
func (m *Manager) TaskHistory() []model.TaskRecord {
	return m.scheduler.History().Recent()
}

// ProxyHistory 返回单个代理的迁移历史。
func (m *Manager) ProxyHistory(key string) []model.StatusTransition {
	return m.tracker.History(key)
}

// Analytics 返回生命周期分析。
func (m *Manager) Analytics(window time.Duration) lifecycle.Analytics {
	return m.tracker.Snapshot(window)
}

// RunNow 立即执行一种任务；同类任务在途时拒绝。
func (m *Manager) RunNow(kind model.TaskKind) error {
	return m.scheduler.RunNow(kind)
}
