package model

import "time"

// TaskKind 是调度任务的种类，每种任务拥有独立的间隔和互斥域。
type TaskKind string

const (
	TaskFetch    TaskKind = "fetch"
	TaskValidate TaskKind = "validate"
	TaskReport   TaskKind = "report"
	TaskCleanup  TaskKind = "cleanup"
)

// AllTaskKinds lists every task kind in canonical order.
var AllTaskKinds = []TaskKind{TaskFetch, TaskValidate, TaskReport, TaskCleanup}

// TaskOutcome 标识一次任务执行的结果。
type TaskOutcome string

const (
	TaskSuccess TaskOutcome = "success"
	TaskFailure TaskOutcome = "failure"
)

// TaskRecord 记录一次任务执行，保存在有界环形缓冲中，最旧的记录被丢弃。
type TaskRecord struct {
	ID        string         `json:"id"` // uuid
	Task      TaskKind       `json:"task"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Outcome   TaskOutcome    `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"` // 任务自报的摘要计数
}
