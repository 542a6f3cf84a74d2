package model

import (
	"fmt"
	"time"
)

// Status 是代理健康状态的封闭枚举。
// 状态只能通过 CanTransition 允许的边迁移，不存在其他可达组合。
type Status string

const (
	StatusUntested    Status = "untested"     // 尚未探测
	StatusValid       Status = "valid"        // 最近一次探测成功
	StatusTempInvalid Status = "temp_invalid" // 探测失败但未达阈值，仍可重试
	StatusInvalid     Status = "invalid"      // 连续失败达到阈值，默认周期不再探测
)

// AllStatuses lists every status in canonical order.
var AllStatuses = []Status{StatusUntested, StatusValid, StatusTempInvalid, StatusInvalid}

// IsValid reports whether s is one of the four known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusUntested, StatusValid, StatusTempInvalid, StatusInvalid:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// A self-transition is always allowed (counters may still move).
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusUntested:
		return next == StatusValid || next == StatusTempInvalid || next == StatusInvalid
	case StatusValid:
		return next == StatusTempInvalid || next == StatusInvalid
	case StatusTempInvalid:
		return next == StatusValid || next == StatusInvalid
	case StatusInvalid:
		// 只有显式的 retry/cleanup 通道才会再次探测 INVALID 代理。
		return next == StatusValid || next == StatusTempInvalid
	}
	return false
}

// Anonymity 是探测推断出的匿名级别。
type Anonymity string

const (
	AnonymityUnknown     Anonymity = "unknown"
	AnonymityTransparent Anonymity = "transparent" // 真实IP被转发头泄露
	AnonymityAnonymous   Anonymity = "anonymous"   // 带有代理标记但未泄露真实IP
	AnonymityElite       Anonymity = "elite"       // 无任何泄露痕迹
)

// Proxy 定义了一个代理的完整信息，是整个模块的核心数据结构。
// 身份键是 (IP, Port, Protocol)；其余字段由 Fetcher/Validator 维护。
type Proxy struct {
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"` // "http", "https", "socks4", "socks5"

	Source  string `json:"source"`            // 来源feed标签
	Country string `json:"country,omitempty"` // 国家/地区，尽力而为

	Status       Status        `json:"status"`
	FailCount    int           `json:"fail_count"`    // 自上次成功以来的连续失败次数
	SuccessCount int           `json:"success_count"` // 累计成功次数
	ResponseTime time.Duration `json:"response_time"` // 最近一次探测往返耗时
	Anonymity    Anonymity     `json:"anonymity"`

	FirstSeen   time.Time `json:"first_seen"`
	LastChecked time.Time `json:"last_checked"`
}

// Key 返回代理的唯一身份键。
func (p *Proxy) Key() string {
	return fmt.Sprintf("%s:%d/%s", p.IP, p.Port, p.Protocol)
}

// Addr 返回 "ip:port" 形式的拨号地址。
func (p *Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// URL 返回代理的完整URL形式, e.g. "http://1.2.3.4:8080"。
func (p *Proxy) URL() string {
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.IP, p.Port)
}

// Clone 返回代理的浅拷贝，用于向调用方暴露快照而不共享指针。
func (p *Proxy) Clone() *Proxy {
	c := *p
	return &c
}
