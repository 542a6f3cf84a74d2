package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"proxypool_sentinel/proxypool/model"
)

// echoHandler mimics the httpbin-style endpoint: it reflects the caller's
// address and request headers back as JSON.
func echoHandler(extraHeaders map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		headers := map[string]string{"User-Agent": r.UserAgent()}
		for k, v := range extraHeaders {
			headers[k] = v
		}
		resp := echoResponse{Origin: "198.51.100.7", Headers: headers}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestProbeUnsupportedProtocol(t *testing.T) {
	hp := NewHTTPProber("http://127.0.0.1:1/get", time.Second)
	out := hp.Probe(context.Background(), &model.Proxy{IP: "1.1.1.1", Port: 1080, Protocol: "socks4"})
	if out.Success {
		t.Fatal("unsupported protocol must not succeed")
	}
	if out.Reason != model.ReasonProbeProtocol {
		t.Errorf("reason = %s, want probe_protocol_error", out.Reason)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(echoHandler(nil))
	defer srv.Close()

	hp := NewHTTPProber(srv.URL, 2*time.Second)
	// Port 1 on localhost refuses connections.
	out := hp.Probe(context.Background(), &model.Proxy{IP: "127.0.0.1", Port: 1, Protocol: "http"})
	if out.Success {
		t.Fatal("probe through a dead proxy must fail")
	}
	if out.Reason != model.ReasonProbeConnection && out.Reason != model.ReasonProbeTimeout {
		t.Errorf("reason = %s, want connection or timeout failure", out.Reason)
	}
}

func TestProbeNon2xxIsProtocolError(t *testing.T) {
	// The "proxy" here is a plain HTTP server that answers every request
	// itself with a 503, which is what a broken forward proxy looks like.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	echo := httptest.NewServer(echoHandler(nil))
	defer echo.Close()

	host, port := splitHostPort(t, broken.Listener.Addr().String())
	hp := NewHTTPProber(echo.URL, 2*time.Second)
	out := hp.Probe(context.Background(), &model.Proxy{IP: host, Port: port, Protocol: "http"})
	if out.Success {
		t.Fatal("503 from the proxy chain must not count as success")
	}
	if out.Reason != model.ReasonProbeProtocol {
		t.Errorf("reason = %s, want probe_protocol_error", out.Reason)
	}
}

func TestProbeSuccessThroughForwardProxy(t *testing.T) {
	echo := httptest.NewServer(echoHandler(map[string]string{"Via": "1.1 test-proxy"}))
	defer echo.Close()

	// A minimal forward proxy: fetch the requested absolute URL and relay it.
	fwd := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := http.Get(r.URL.String())
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		var echoBody echoResponse
		json.NewDecoder(resp.Body).Decode(&echoBody)
		json.NewEncoder(w).Encode(echoBody)
	}))
	defer fwd.Close()

	host, port := splitHostPort(t, fwd.Listener.Addr().String())
	hp := NewHTTPProber(echo.URL, 5*time.Second)
	out := hp.Probe(context.Background(), &model.Proxy{IP: host, Port: port, Protocol: "http"})
	if !out.Success {
		t.Fatalf("probe failed: reason=%s", out.Reason)
	}
	if out.Reason != model.ReasonProbeSuccess {
		t.Errorf("reason = %s, want probe_success", out.Reason)
	}
	if out.Latency <= 0 {
		t.Error("successful probe must record a positive latency")
	}
}

func TestClassifyAnonymity(t *testing.T) {
	hp := NewHTTPProber("http://unused.invalid/get", time.Second)
	hp.realIPOnce.Do(func() {}) // pin realIP without a network call
	hp.realIP = "203.0.113.9"

	cases := []struct {
		name string
		body echoResponse
		want model.Anonymity
	}{
		{
			name: "real ip leaked in forwarding header",
			body: echoResponse{Origin: "198.51.100.7", Headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}},
			want: model.AnonymityTransparent,
		},
		{
			name: "real ip leaked in origin chain",
			body: echoResponse{Origin: "203.0.113.9, 198.51.100.7", Headers: map[string]string{}},
			want: model.AnonymityTransparent,
		},
		{
			name: "proxy markers without real ip",
			body: echoResponse{Origin: "198.51.100.7", Headers: map[string]string{"Via": "1.1 squid"}},
			want: model.AnonymityAnonymous,
		},
		{
			name: "forwarded header with proxy own ip",
			body: echoResponse{Origin: "198.51.100.7", Headers: map[string]string{"X-Forwarded-For": "198.51.100.7"}},
			want: model.AnonymityAnonymous,
		},
		{
			name: "no trace at all",
			body: echoResponse{Origin: "198.51.100.7", Headers: map[string]string{"User-Agent": "curl"}},
			want: model.AnonymityElite,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, _ := json.Marshal(tc.body)
			if got := hp.classifyAnonymity(context.Background(), data); got != tc.want {
				t.Errorf("classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyAnonymityUnparsableBody(t *testing.T) {
	hp := NewHTTPProber("http://unused.invalid/get", time.Second)
	hp.realIPOnce.Do(func() {})
	if got := hp.classifyAnonymity(context.Background(), []byte("<html>")); got != model.AnonymityUnknown {
		t.Errorf("classify of garbage = %s, want unknown", got)
	}
}

func TestClassifyProbeErr(t *testing.T) {
	if got := classifyProbeErr(context.DeadlineExceeded); got != model.ReasonProbeTimeout {
		t.Errorf("deadline exceeded classified as %s", got)
	}
	if got := classifyProbeErr(fmt.Errorf("connection refused")); got != model.ReasonProbeConnection {
		t.Errorf("generic error classified as %s", got)
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("unexpected listener addr %s: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("unexpected listener port %s: %v", portStr, err)
	}
	return host, port
}
