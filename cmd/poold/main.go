package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"proxypool_sentinel/internal/app"
	"proxypool_sentinel/internal/shared/config"
	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "poold.ini")
	sourcesPath := filepath.Join(*configDir, "sources.json")

	// 1. 加载 .ini 行为配置（含快速失败校验）
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 加载 sources.json 数据配置
	sources, err := config.LoadSources(sourcesPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to load sources file '%s'", sourcesPath)
	}
	if len(sources) == 0 {
		logger.Warn().Msg("No proxy sources configured; fetch task will be a no-op.")
	}

	// 3. 创建并运行服务
	appServer := app.New(cfg, sources)
	appServer.Run()
}
