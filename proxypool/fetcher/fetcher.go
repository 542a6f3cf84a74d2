package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"proxypool_sentinel/internal/shared/config"
	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// ErrSourceUnavailable 表示一个feed抓取失败。单个feed失败只影响它自己。
var ErrSourceUnavailable = errors.New("source unavailable")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher 从多个纯文本feed拉取候选代理。
// 每个feed返回按行分隔的 ip:port 列表；格式不合法的行被逐行丢弃。
type Fetcher struct {
	client  *http.Client
	retries int
}

// New 创建一个 Fetcher。timeout 是单个feed的独立超时，retries 是失败后的重试次数。
func New(timeout time.Duration, retries int) *Fetcher {
	if retries < 0 {
		retries = 0
	}
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
	}
}

// Fetch 依次抓取所有feed并返回批内去重后的候选代理。
// 某个feed失败（网络错误、响应异常）会被记录并跳过，其余feed的结果照常返回。
func (f *Fetcher) Fetch(ctx context.Context, sources []config.Source) []*model.Proxy {
	l := logger.WithComponent("ProxyPool/Fetcher")

	seen := make(map[string]struct{})
	var out []*model.Proxy

	for _, src := range sources {
		proxies, err := f.fetchOne(ctx, src)
		if err != nil {
			l.Warn().Err(err).Str("source", src.Name).Msg("Feed fetch failed, skipping.")
			continue
		}
		for _, p := range proxies {
			key := p.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}

	l.Info().Int("sources", len(sources)).Int("unique", len(out)).Msg("Fetch finished.")
	return out
}

// fetchOne 抓取单个feed，带有限次数的重试。
func (f *Fetcher) fetchOne(ctx context.Context, src config.Source) ([]*model.Proxy, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		proxies, err := f.doFetch(ctx, src)
		if err == nil {
			return proxies, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.URL, lastErr)
}

func (f *Fetcher) doFetch(ctx context.Context, src config.Source) ([]*model.Proxy, error) {
	l := logger.WithComponent("ProxyPool/Fetcher")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", src.Name, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, src.Name)
	}

	var proxies []*model.Proxy
	dropped := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		p, ok := parseLine(line, src)
		if !ok {
			dropped++
			continue
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed body from %s: %w", src.Name, err)
	}

	if dropped > 0 {
		l.Debug().Int("dropped", dropped).Str("source", src.Name).Msg("Dropped malformed lines.")
	}
	l.Info().Int("count", len(proxies)).Str("source", src.Name).Msg("Feed fetched.")
	return proxies, nil
}

// parseLine 解析一行 "ip:port"。端口越界或IP不合法的行被丢弃。
func parseLine(line string, src config.Source) (*model.Proxy, bool) {
	// 有些feed带有 "http://" 前缀，容忍它。
	if idx := strings.Index(line, "://"); idx >= 0 {
		line = line[idx+3:]
	}
	host, portStr, err := net.SplitHostPort(line)
	if err != nil {
		return nil, false
	}
	if net.ParseIP(host) == nil {
		return nil, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, false
	}
	return &model.Proxy{
		IP:        host,
		Port:      port,
		Protocol:  src.Protocol,
		Source:    src.Name,
		Status:    model.StatusUntested,
		Anonymity: model.AnonymityUnknown,
	}, true
}
