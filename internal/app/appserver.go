package app

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proxypool_sentinel/internal/service/web"
	"proxypool_sentinel/internal/shared/config"
	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/internal/shared/types"
	manager "proxypool_sentinel/proxypool"
	"proxypool_sentinel/proxypool/scheduler"
)

// statsPushInterval 是向仪表盘推送统计的周期。
const statsPushInterval = 10 * time.Second

// AppServer is the application's main struct.
type AppServer struct {
	cfg     *types.Config
	manager *manager.Manager
	hub     *web.Hub

	waitGroup sync.WaitGroup
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// New 创建 AppServer 并装配代理池管理器与仪表盘推送。
func New(cfg *types.Config, sources []config.Source) *AppServer {
	hub := web.NewHub()

	notify := func(n scheduler.Notification) {
		l := logger.WithComponent("App")
		l.Warn().Str("kind", n.Kind).Msg(n.Message)
		hub.BroadcastNotification(n)
	}

	return &AppServer{
		cfg:      cfg,
		manager:  manager.NewManager(cfg, sources, notify),
		hub:      hub,
		stopChan: make(chan struct{}),
	}
}

// Manager 暴露池管理器，供嵌入方（或测试）直接使用消费边界。
func (a *AppServer) Manager() *manager.Manager {
	return a.manager
}

// Run 启动所有后台组件并阻塞到收到终止信号。
func (a *AppServer) Run() {
	l := logger.WithComponent("App")

	go a.hub.Run()
	a.manager.Start()
	web.StartServer(&a.waitGroup, a.cfg, a.manager, a.hub)

	a.waitGroup.Add(1)
	go a.statsLoop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	l.Info().Str("signal", s.String()).Msg("Termination signal received.")

	a.Shutdown()
}

// statsLoop 周期性地把池统计推给已连接的仪表盘客户端。
func (a *AppServer) statsLoop() {
	defer a.waitGroup.Done()

	ticker := time.NewTicker(statsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.hub.BroadcastStats(a.manager.Statistics())
		case <-a.stopChan:
			return
		}
	}
}

// Shutdown 协作式关停：停掉推送循环与调度器，让在途任务收尾。
func (a *AppServer) Shutdown() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.manager.Stop()
		l := logger.WithComponent("App")
		l.Info().Msg("Shutdown complete.")
	})
}
