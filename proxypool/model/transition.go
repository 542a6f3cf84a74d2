package model

import "time"

// Reason 标识一次状态迁移的触发原因。
type Reason string

const (
	ReasonFetched         Reason = "fetched"               // 新代理进入池
	ReasonProbeSuccess    Reason = "probe_success"         // 探测成功
	ReasonProbeTimeout    Reason = "probe_timeout"         // 探测超时
	ReasonProbeConnection Reason = "probe_connection_error" // 连接失败
	ReasonProbeProtocol   Reason = "probe_protocol_error"  // 响应不合法
	ReasonUsageSuccess    Reason = "usage_success"         // 调用方反馈成功
	ReasonUsageFailure    Reason = "usage_failure"         // 调用方反馈失败
	ReasonRetry           Reason = "retry"                 // 冷却后重试
	ReasonManual          Reason = "manual"                // 人工操作
)

// IsFailure reports whether the reason describes a failed probe or usage report.
func (r Reason) IsFailure() bool {
	switch r {
	case ReasonProbeTimeout, ReasonProbeConnection, ReasonProbeProtocol, ReasonUsageFailure:
		return true
	}
	return false
}

// StatusTransition 是一条不可变的状态迁移记录。
// 一旦写入历史便不再被修改或删除。
type StatusTransition struct {
	Key      string    `json:"key"` // 代理身份键 "ip:port/protocol"
	Source   string    `json:"source,omitempty"`
	Protocol string    `json:"protocol,omitempty"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	At       time.Time `json:"at"`
	Reason   Reason    `json:"reason"`
}
