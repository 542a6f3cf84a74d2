package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/internal/shared/types"
)

// basicAuthMiddleware 检查 user 和 password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// StartServer 启动只读观测API。web.port 为 0 时整个服务关闭。
func StartServer(wg *sync.WaitGroup, cfg *types.Config, pool PoolReader, hub *Hub) {
	if cfg.WebConf.Port <= 0 {
		logger.Info().Msg("[WebServer] Observability API is disabled (web.port is 0 or not set).")
		return
	}

	handler := NewHandler(pool)
	mux := http.NewServeMux()

	webUser := cfg.WebConf.User
	webPassword := cfg.WebConf.Password

	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), webUser, webPassword))
	mux.Handle("/api/proxies", basicAuthMiddleware(http.HandlerFunc(handler.HandleProxies), webUser, webPassword))
	mux.Handle("/api/proxies/history", basicAuthMiddleware(http.HandlerFunc(handler.HandleProxyHistory), webUser, webPassword))
	mux.Handle("/api/history", basicAuthMiddleware(http.HandlerFunc(handler.HandleHistory), webUser, webPassword))
	mux.Handle("/api/analytics", basicAuthMiddleware(http.HandlerFunc(handler.HandleAnalytics), webUser, webPassword))

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("[WebServer] Failed to start observability API.")
		return
	}

	logger.Info().Msgf("Observability API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := http.Serve(listener, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("[WebServer] Server error.")
		}
		logger.Info().Msg("[WebServer] Stopped.")
	}()
}
