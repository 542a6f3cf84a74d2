package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"proxypool_sentinel/internal/shared/types"
)

// LoadIni 加载行为配置文件，填默认值并做快速失败校验。
// 校验失败被视为 ConfigurationError：调用方应在任何任务运行前退出。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Source 描述一个代理源feed：纯文本、按行分隔的 ip:port 列表。
type Source struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"` // 该feed声称的协议，作为提示打在代理上
	URL      string `json:"url"`
}

// LoadSources 加载 sources.json 数据文件。
// 文件不存在时返回空列表而不是错误。
func LoadSources(fileName string) ([]Source, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return []Source{}, nil
		}
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources.json: %w", err)
	}
	for i, s := range sources {
		if s.URL == "" {
			return nil, fmt.Errorf("sources.json entry %d has no url", i)
		}
		if s.Protocol == "" {
			sources[i].Protocol = "http"
		}
		if s.Name == "" {
			sources[i].Name = s.URL
		}
	}
	return sources, nil
}
