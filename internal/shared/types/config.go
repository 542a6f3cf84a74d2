package types

import (
	"errors"
	"fmt"
	"time"
)

// CommonConf 包含共有的配置
type CommonConf struct {
	DataDir   string `ini:"data_dir"`   // 状态快照与归档目录
	ExportDir string `ini:"export_dir"` // 导出文件目录
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level      string `ini:"level"`
	File       string `ini:"file"` // 为空时仅输出到控制台
	MaxSizeMB  int    `ini:"max_size_mb"`
	MaxBackups int    `ini:"max_backups"`
	MaxAgeDays int    `ini:"max_age_days"`
}

// PoolConf 包含代理池核心行为配置。
type PoolConf struct {
	FailureThreshold  int    `ini:"failure_threshold"`   // 连续失败达到该值转为 invalid
	ProbeTimeoutSec   int    `ini:"probe_timeout_sec"`   // 单次探测超时
	ProbeConcurrency  int    `ini:"probe_concurrency"`   // 验证工作池大小
	TaskHistorySize   int    `ini:"task_history_size"`   // 任务历史环形缓冲容量
	RetentionDays     int    `ini:"retention_days"`      // invalid 代理归档前的保留窗口
	RecheckValidHours int    `ini:"recheck_valid_hours"` // valid 代理的复检间隔
	EventBufferSize   int    `ini:"event_buffer_size"`   // 生命周期事件队列容量
	ProbeURL          string `ini:"probe_url"`           // 回显探测端点
}

// FetchScheduleConf 对应 [fetch_schedule]。
type FetchScheduleConf struct {
	Enabled                  bool `ini:"enabled"`
	IntervalHours            int  `ini:"interval_hours"`
	MaxProxiesPerFetch       int  `ini:"max_proxies_per_fetch"`
	RetryFailedIntervalHours int  `ini:"retry_failed_interval_hours"` // invalid 代理的重试冷却
	FeedTimeoutSec           int  `ini:"feed_timeout_sec"`
	FeedRetries              int  `ini:"feed_retries"`
}

// ValidationScheduleConf 对应 [validation_schedule]。
type ValidationScheduleConf struct {
	Enabled                       bool `ini:"enabled"`
	IntervalHours                 int  `ini:"interval_hours"`
	BatchSize                     int  `ini:"batch_size"`
	RetryTempInvalidIntervalHours int  `ini:"retry_temp_invalid_interval_hours"` // temp_invalid 冷却
	TaskBudgetMin                 int  `ini:"task_budget_min"`                   // 单次验证任务的硬墙钟预算(分钟)
}

// ReportScheduleConf 对应 [report_schedule]。
type ReportScheduleConf struct {
	Enabled       bool   `ini:"enabled"`
	IntervalHours int    `ini:"interval_hours"`
	Formats       string `ini:"formats"` // 逗号分隔: json,csv,txt
}

// CleanupScheduleConf 对应 [cleanup_schedule]。
type CleanupScheduleConf struct {
	Enabled       bool `ini:"enabled"`
	IntervalHours int  `ini:"interval_hours"`
}

// NotificationConf 对应 [notification]。
type NotificationConf struct {
	Enabled                  bool `ini:"enabled"`
	NotifyOnErrors           bool `ini:"notify_on_errors"`
	NotifyOnLowProxies       bool `ini:"notify_on_low_proxies"`
	MinValidProxiesThreshold int  `ini:"min_valid_proxies_threshold"`
	ConsecutiveFailures      int  `ini:"consecutive_failures"` // 同类任务连续失败N次后通知
}

// WebConf 包含只读观测 API 的配置。
type WebConf struct {
	Port     int    `ini:"port"` // 0 表示关闭
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是整个进程的统一配置结构体。
type Config struct {
	CommonConf             `ini:"common"`
	LogConf                `ini:"log"`
	PoolConf               `ini:"pool"`
	FetchScheduleConf      `ini:"fetch_schedule"`
	ValidationScheduleConf `ini:"validation_schedule"`
	ReportScheduleConf     `ini:"report_schedule"`
	CleanupScheduleConf    `ini:"cleanup_schedule"`
	NotificationConf       `ini:"notification"`
	WebConf                `ini:"web"`
}

// ProbeTimeout 返回单次探测超时时长。
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.PoolConf.ProbeTimeoutSec) * time.Second
}

// ValidationBudget 返回验证任务的硬墙钟预算。
func (c *Config) ValidationBudget() time.Duration {
	return time.Duration(c.ValidationScheduleConf.TaskBudgetMin) * time.Minute
}

// SetDefaults 为未配置的字段填入默认值。
func (c *Config) SetDefaults() {
	if c.CommonConf.DataDir == "" {
		c.CommonConf.DataDir = "data"
	}
	if c.CommonConf.ExportDir == "" {
		c.CommonConf.ExportDir = "data/exports"
	}
	if c.LogConf.Level == "" {
		c.LogConf.Level = "info"
	}
	if c.PoolConf.FailureThreshold == 0 {
		c.PoolConf.FailureThreshold = 3
	}
	if c.PoolConf.ProbeTimeoutSec == 0 {
		c.PoolConf.ProbeTimeoutSec = 10
	}
	if c.PoolConf.ProbeConcurrency == 0 {
		c.PoolConf.ProbeConcurrency = 30
	}
	if c.PoolConf.TaskHistorySize == 0 {
		c.PoolConf.TaskHistorySize = 100
	}
	if c.PoolConf.RetentionDays == 0 {
		c.PoolConf.RetentionDays = 30
	}
	if c.PoolConf.RecheckValidHours == 0 {
		c.PoolConf.RecheckValidHours = 1
	}
	if c.PoolConf.EventBufferSize == 0 {
		c.PoolConf.EventBufferSize = 4096
	}
	if c.PoolConf.ProbeURL == "" {
		c.PoolConf.ProbeURL = "http://httpbin.org/get"
	}
	if c.FetchScheduleConf.IntervalHours == 0 {
		c.FetchScheduleConf.IntervalHours = 6
	}
	if c.FetchScheduleConf.MaxProxiesPerFetch == 0 {
		c.FetchScheduleConf.MaxProxiesPerFetch = 1000
	}
	if c.FetchScheduleConf.RetryFailedIntervalHours == 0 {
		c.FetchScheduleConf.RetryFailedIntervalHours = 24
	}
	if c.FetchScheduleConf.FeedTimeoutSec == 0 {
		c.FetchScheduleConf.FeedTimeoutSec = 20
	}
	if c.FetchScheduleConf.FeedRetries == 0 {
		c.FetchScheduleConf.FeedRetries = 2
	}
	if c.ValidationScheduleConf.IntervalHours == 0 {
		c.ValidationScheduleConf.IntervalHours = 3
	}
	if c.ValidationScheduleConf.BatchSize == 0 {
		c.ValidationScheduleConf.BatchSize = 100
	}
	if c.ValidationScheduleConf.RetryTempInvalidIntervalHours == 0 {
		c.ValidationScheduleConf.RetryTempInvalidIntervalHours = 6
	}
	if c.ValidationScheduleConf.TaskBudgetMin == 0 {
		c.ValidationScheduleConf.TaskBudgetMin = 30
	}
	if c.ReportScheduleConf.IntervalHours == 0 {
		c.ReportScheduleConf.IntervalHours = 12
	}
	if c.ReportScheduleConf.Formats == "" {
		c.ReportScheduleConf.Formats = "json,csv"
	}
	if c.CleanupScheduleConf.IntervalHours == 0 {
		c.CleanupScheduleConf.IntervalHours = 24
	}
	if c.NotificationConf.MinValidProxiesThreshold == 0 {
		c.NotificationConf.MinValidProxiesThreshold = 50
	}
	if c.NotificationConf.ConsecutiveFailures == 0 {
		c.NotificationConf.ConsecutiveFailures = 3
	}
}

// Validate 在任何任务运行之前对配置做快速失败检查。
func (c *Config) Validate() error {
	var errs []error
	if c.PoolConf.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("pool.failure_threshold must be >= 1, got %d", c.PoolConf.FailureThreshold))
	}
	if c.PoolConf.ProbeTimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("pool.probe_timeout_sec must be >= 1, got %d", c.PoolConf.ProbeTimeoutSec))
	}
	if c.PoolConf.ProbeConcurrency < 1 {
		errs = append(errs, fmt.Errorf("pool.probe_concurrency must be >= 1, got %d", c.PoolConf.ProbeConcurrency))
	}
	if c.PoolConf.TaskHistorySize < 1 {
		errs = append(errs, fmt.Errorf("pool.task_history_size must be >= 1, got %d", c.PoolConf.TaskHistorySize))
	}
	if c.FetchScheduleConf.Enabled && c.FetchScheduleConf.IntervalHours < 1 {
		errs = append(errs, fmt.Errorf("fetch_schedule.interval_hours must be >= 1, got %d", c.FetchScheduleConf.IntervalHours))
	}
	if c.ValidationScheduleConf.Enabled && c.ValidationScheduleConf.IntervalHours < 1 {
		errs = append(errs, fmt.Errorf("validation_schedule.interval_hours must be >= 1, got %d", c.ValidationScheduleConf.IntervalHours))
	}
	if c.ValidationScheduleConf.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("validation_schedule.batch_size must be >= 1, got %d", c.ValidationScheduleConf.BatchSize))
	}
	if c.ReportScheduleConf.Enabled && c.ReportScheduleConf.IntervalHours < 1 {
		errs = append(errs, fmt.Errorf("report_schedule.interval_hours must be >= 1, got %d", c.ReportScheduleConf.IntervalHours))
	}
	if c.CleanupScheduleConf.Enabled && c.CleanupScheduleConf.IntervalHours < 1 {
		errs = append(errs, fmt.Errorf("cleanup_schedule.interval_hours must be >= 1, got %d", c.CleanupScheduleConf.IntervalHours))
	}
	if c.NotificationConf.Enabled && c.NotificationConf.MinValidProxiesThreshold < 0 {
		errs = append(errs, fmt.Errorf("notification.min_valid_proxies_threshold must be >= 0, got %d", c.NotificationConf.MinValidProxiesThreshold))
	}
	return errors.Join(errs...)
}
