package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// Format 是导出文件格式。
type Format string

const (
	FormatJSON Format = "json" // 完整记录数组
	FormatCSV  Format = "csv"  // 固定列序
	FormatTXT  Format = "txt"  // 每行一个 ip:port
)

// ParseFormat 校验并归一化格式名。
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatTXT:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// csvColumns 是 CSV 导出的规范列序，与快照schema共享字段。
var csvColumns = []string{
	"ip", "port", "protocol", "country", "status",
	"response_time_ms", "fail_count", "success_count", "first_seen", "last_checked",
}

// Result 描述一次导出。子集为空时 Skipped 为 true 且不产生文件：
// 这是有意的策略选择，宁可不写也不留下空文件。
type Result struct {
	Count   int    `json:"count"`
	Path    string `json:"path,omitempty"`
	Skipped bool   `json:"skipped"`
}

// Exporter 把按状态过滤后的池视图序列化到导出目录。
// 文件名带时间戳，不会覆盖既有导出。
type Exporter struct {
	dir string
	now func() time.Time
}

// New 创建一个 Exporter。
func New(dir string) *Exporter {
	return &Exporter{dir: dir, now: time.Now}
}

// Export 将 proxies 写为指定格式的文件。proxies 已由调用方按状态过滤。
func (e *Exporter) Export(proxies []*model.Proxy, status model.Status, format Format) (Result, error) {
	l := logger.WithComponent("ProxyPool/Exporter")

	if len(proxies) == 0 {
		l.Info().Str("status", string(status)).Str("format", string(format)).
			Msg("Nothing to export, skipping file.")
		return Result{Count: 0, Skipped: true}, nil
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create export dir: %w", err)
	}

	name := fmt.Sprintf("%s_proxies_%s.%s", status, e.now().Format("20060102_150405"), format)
	path := filepath.Join(e.dir, name)

	var err error
	switch format {
	case FormatJSON:
		err = e.writeJSON(path, proxies)
	case FormatCSV:
		err = e.writeCSV(path, proxies)
	case FormatTXT:
		err = e.writeTXT(path, proxies)
	default:
		return Result{}, fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return Result{}, err
	}

	l.Info().Int("count", len(proxies)).Str("path", path).Msg("Export written.")
	return Result{Count: len(proxies), Path: path}, nil
}

func (e *Exporter) writeJSON(path string, proxies []*model.Proxy) error {
	data, err := json.MarshalIndent(proxies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *Exporter) writeCSV(path string, proxies []*model.Proxy) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return err
	}
	for _, p := range proxies {
		row := []string{
			p.IP,
			strconv.Itoa(p.Port),
			p.Protocol,
			p.Country,
			string(p.Status),
			strconv.FormatInt(p.ResponseTime.Milliseconds(), 10),
			strconv.Itoa(p.FailCount),
			strconv.Itoa(p.SuccessCount),
			formatTime(p.FirstSeen),
			formatTime(p.LastChecked),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (e *Exporter) writeTXT(path string, proxies []*model.Proxy) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, p := range proxies {
		if _, err := fmt.Fprintln(f, p.Addr()); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
