package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"proxypool_sentinel/internal/shared/logger"
	"proxypool_sentinel/proxypool/model"
)

// 快照按状态分片落盘：data/valid.json, data/untested.json, ...
// 写入必须是原子的：先写临时文件再 rename，崩溃不会留下半个快照。

const archiveFile = "archive.json"

func snapshotFile(status model.Status) string {
	return string(status) + ".json"
}

// Load 从数据目录加载全部状态分片。文件不存在按空处理。
func (s *Store) Load() error {
	l := logger.WithComponent("ProxyPool/Storage")

	loaded := make(map[string]*model.Proxy)
	for _, status := range model.AllStatuses {
		path := filepath.Join(s.dataDir, snapshotFile(status))
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read snapshot %s: %w", path, err)
		}

		var proxies []*model.Proxy
		if err := json.Unmarshal(data, &proxies); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot %s: %w", path, err)
		}
		for _, p := range proxies {
			if !p.Status.IsValid() {
				l.Warn().Str("key", p.Key()).Str("status", string(p.Status)).Msg("Skipping record with unknown status.")
				continue
			}
			loaded[p.Key()] = p
		}
	}

	s.mu.Lock()
	s.proxies = loaded
	s.mu.Unlock()

	l.Info().Int("count", len(loaded)).Str("dir", s.dataDir).Msg("Loaded proxies from snapshots.")
	return nil
}

// Save 将内存池原子地写回状态分片。
// 失败时内存状态保持不变，由当期任务按 PersistenceError 记为失败并在下轮重试。
func (s *Store) Save() error {
	s.mu.RLock()
	byStatus := make(map[model.Status][]*model.Proxy, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		byStatus[status] = []*model.Proxy{}
	}
	for _, p := range s.proxies {
		byStatus[p.Status] = append(byStatus[p.Status], p.Clone())
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	for status, proxies := range byStatus {
		sort.Slice(proxies, func(i, j int) bool { return proxies[i].Key() < proxies[j].Key() })
		data, err := json.MarshalIndent(proxies, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s snapshot: %w", status, err)
		}
		path := filepath.Join(s.dataDir, snapshotFile(status))
		if err := writeFileAtomic(path, data); err != nil {
			return fmt.Errorf("failed to write %s snapshot: %w", status, err)
		}
	}

	l := logger.WithComponent("ProxyPool/Storage")
	l.Debug().Str("dir", s.dataDir).Msg("Snapshots saved.")
	return nil
}

// ArchiveRecord 是归档文件中的一条记录。
type ArchiveRecord struct {
	Proxy      *model.Proxy `json:"proxy"`
	ArchivedAt time.Time    `json:"archived_at"`
}

// ArchiveInvalid 将持续 invalid 超过保留窗口的代理移出活动池，追加进归档文件。
// 归档是移动而不是删除：只有归档文件写入成功后才会把代理移出活动池，
// 写入失败时池保持原样，下一轮 cleanup 重试。返回归档数量。
func (s *Store) ArchiveInvalid(retention time.Duration) (int, error) {
	now := s.now()
	cutoff := now.Add(-retention)

	s.mu.RLock()
	var stale []*model.Proxy
	for _, p := range s.proxies {
		if p.Status == model.StatusInvalid && !p.LastChecked.IsZero() && p.LastChecked.Before(cutoff) {
			stale = append(stale, p.Clone())
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0, nil
	}

	path := filepath.Join(s.dataDir, archiveFile)
	var records []ArchiveRecord
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			return 0, fmt.Errorf("failed to unmarshal archive: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read archive: %w", err)
	}

	for _, p := range stale {
		records = append(records, ArchiveRecord{Proxy: p, ArchivedAt: now})
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal archive: %w", err)
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	s.mu.Lock()
	for _, p := range stale {
		// 归档窗口内被并发改回非 invalid 的代理留在池里。
		if cur, ok := s.proxies[p.Key()]; ok && cur.Status == model.StatusInvalid {
			delete(s.proxies, p.Key())
		}
	}
	s.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")
	l.Info().Int("count", len(stale)).Msg("Archived stale invalid proxies.")
	return len(stale), nil
}

// writeFileAtomic 先写同目录临时文件再 rename 到目标路径。
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
