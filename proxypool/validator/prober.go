package validator

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"proxypool_sentinel/proxypool/model"
)

// Prober 对单个代理发起一次合成探测。
// 实现必须把所有失败折叠进返回的 ProbeOutcome，绝不向调用方抛错。
type Prober interface {
	Probe(ctx context.Context, p *model.Proxy) model.ProbeOutcome
}

// echoResponse 是回显端点返回的结构 (httpbin 风格)。
type echoResponse struct {
	Origin  string            `json:"origin"`
	Headers map[string]string `json:"headers"`
}

// 代理痕迹头。出现任何一个说明链路上有代理自我标记。
var proxyMarkerHeaders = []string{"Via", "X-Proxy-Connection", "Forwarded", "X-Forwarded-For", "X-Real-Ip"}

// 可能携带调用方真实IP的转发头。
var forwardingHeaders = []string{"X-Forwarded-For", "X-Real-Ip", "Forwarded"}

// HTTPProber 通过候选代理向固定回显端点发请求来测量存活性、延迟与匿名级别。
// 支持 http/https (CONNECT) 与 socks5；其余协议按协议错误处理。
type HTTPProber struct {
	echoURL string
	timeout time.Duration

	// realIP 是本机的出口IP，用于判定转发头是否泄露了真实地址。
	// 首次探测时直连回显端点获取一次；失败则匿名判定退化为仅看代理痕迹。
	realIPOnce sync.Once
	realIP     string
}

// NewHTTPProber 创建生产用的探测器。timeout 是单次探测的独立超时。
func NewHTTPProber(echoURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{echoURL: echoURL, timeout: timeout}
}

// Probe 实现 Prober。
func (hp *HTTPProber) Probe(ctx context.Context, p *model.Proxy) model.ProbeOutcome {
	out := model.ProbeOutcome{Key: p.Key(), At: time.Now()}

	transport, err := hp.transportFor(p)
	if err != nil {
		out.Reason = model.ReasonProbeProtocol
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, hp.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.echoURL, nil)
	if err != nil {
		out.Reason = model.ReasonProbeProtocol
		return out
	}

	client := &http.Client{Transport: transport, Timeout: hp.timeout}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		out.Reason = classifyProbeErr(err)
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.Reason = model.ReasonProbeProtocol
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		out.Reason = classifyProbeErr(err)
		return out
	}

	out.Success = true
	out.Reason = model.ReasonProbeSuccess
	out.Latency = elapsed
	out.Anonymity = hp.classifyAnonymity(ctx, body)
	return out
}

// transportFor 为代理协议构建 http.Transport。
func (hp *HTTPProber) transportFor(p *model.Proxy) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: hp.timeout, KeepAlive: 30 * time.Second}

	switch p.Protocol {
	case "http", "https":
		proxyURL, err := url.Parse(fmt.Sprintf("http://%s", p.Addr()))
		if err != nil {
			return nil, err
		}
		return &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			DialContext:         dialer.DialContext,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			TLSHandshakeTimeout: hp.timeout / 2,
			IdleConnTimeout:     hp.timeout,
			DisableKeepAlives:   true,
		}, nil
	case "socks5":
		socksDialer, err := proxy.SOCKS5("tcp", p.Addr(), nil, dialer)
		if err != nil {
			return nil, err
		}
		cd, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support context")
		}
		return &http.Transport{
			DialContext:         cd.DialContext,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
			TLSHandshakeTimeout: hp.timeout / 2,
			IdleConnTimeout:     hp.timeout,
			DisableKeepAlives:   true,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", p.Protocol)
	}
}

// classifyAnonymity 解析回显响应并判定匿名级别：
// 真实IP出现在转发头里 → transparent；只有代理痕迹 → anonymous；毫无痕迹 → elite。
func (hp *HTTPProber) classifyAnonymity(ctx context.Context, body []byte) model.Anonymity {
	var echo echoResponse
	if err := json.Unmarshal(body, &echo); err != nil {
		return model.AnonymityUnknown
	}

	headers := make(map[string]string, len(echo.Headers))
	for k, v := range echo.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	realIP := hp.callerIP(ctx)
	if realIP != "" {
		for _, h := range forwardingHeaders {
			if v, ok := headers[http.CanonicalHeaderKey(h)]; ok && strings.Contains(v, realIP) {
				return model.AnonymityTransparent
			}
		}
		if strings.Contains(echo.Origin, realIP) && strings.Contains(echo.Origin, ",") {
			// 形如 "realIP, proxyIP" 的 origin 同样属于泄露。
			return model.AnonymityTransparent
		}
	}

	for _, h := range proxyMarkerHeaders {
		if _, ok := headers[http.CanonicalHeaderKey(h)]; ok {
			return model.AnonymityAnonymous
		}
	}
	return model.AnonymityElite
}

// callerIP 直连回显端点获取一次本机出口IP。
func (hp *HTTPProber) callerIP(ctx context.Context) string {
	hp.realIPOnce.Do(func() {
		client := &http.Client{Timeout: hp.timeout}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hp.echoURL, nil)
		if err != nil {
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return
		}
		var echo echoResponse
		if err := json.Unmarshal(body, &echo); err != nil {
			return
		}
		// origin 可能是 "ip" 或 "ip, ip"，取第一段。
		hp.realIP = strings.TrimSpace(strings.Split(echo.Origin, ",")[0])
	})
	return hp.realIP
}

// classifyProbeErr 把探测错误归并为超时或连接失败。
func classifyProbeErr(err error) model.Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ReasonProbeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ReasonProbeTimeout
	}
	return model.ReasonProbeConnection
}
