package model

import "time"

// ProbeOutcome 是一次探测（或一次调用方使用反馈）的结果。
// 失败从不作为错误向上传播，而是完整地折叠进状态迁移。
type ProbeOutcome struct {
	Key       string        // 代理身份键
	Success   bool
	Reason    Reason        // probe_success / probe_timeout / ...
	Latency   time.Duration // 仅成功时有意义
	Anonymity Anonymity     // 仅成功时有意义，unknown 表示未判定
	At        time.Time
}
