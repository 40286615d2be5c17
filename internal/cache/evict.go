package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Limits 为缓存的双重上限：文件数与总字节数。
type Limits struct {
	MaxCount int   `json:"max_count"`
	MaxBytes int64 `json:"max_bytes"`
}

// Normalize 将两个上限的下限钳制为 1。
func (l Limits) Normalize() Limits {
	if l.MaxCount < 1 {
		l.MaxCount = 1
	}
	if l.MaxBytes < 1 {
		l.MaxBytes = 1
	}
	return l
}

// Within 判断给定用量是否满足上限。
func (l Limits) Within(count int, bytes int64) bool {
	return count <= l.MaxCount && bytes <= l.MaxBytes
}

// EvictionResult 描述一次 EnforceLimits 实际发生的效果。
type EvictionResult struct {
	Deleted        []string `json:"deleted"`
	FreedBytes     int64    `json:"freed_bytes"`
	RemainingCount int      `json:"remaining_count"`
	RemainingBytes int64    `json:"remaining_bytes"`
	// OverLimit 为 true 表示受保护文件或删除失败导致未能回到上限以内。
	OverLimit bool `json:"over_limit"`
}

// ClearResult 描述一次批量清空的结果。
type ClearResult struct {
	Deleted      int      `json:"deleted"`
	Skipped      int      `json:"skipped"`
	Failed       int      `json:"failed"`
	FreedBytes   int64    `json:"freed_bytes"`
	DeletedPaths []string `json:"deleted_paths"`
	SkippedPaths []string `json:"skipped_paths"`
}

// DeleteResult 将调用方指定的每个路径归类为 deleted/skipped/missing/failed。
type DeleteResult struct {
	Deleted    []string `json:"deleted"`
	Skipped    []string `json:"skipped"`
	Missing    []string `json:"missing"`
	Failed     []string `json:"failed"`
	FreedBytes int64    `json:"freed_bytes"`
}

// EnforceLimits 按 mtime 升序（最旧优先）删除载荷直到数量与字节数都回到上限以内。
// protected 中的绝对路径永远不会被删除，即使因此无法达到上限。
func (s *Store) EnforceLimits(limits Limits, protected []string) EvictionResult {
	limits = limits.Normalize()
	items := s.payloads()

	count := len(items)
	var total int64
	for _, item := range items {
		total += item.size
	}

	result := EvictionResult{RemainingCount: count, RemainingBytes: total}
	if limits.Within(count, total) {
		return result
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].modTime.Equal(items[j].modTime) {
			return items[i].modTime.Before(items[j].modTime)
		}
		return items[i].name < items[j].name
	})

	guard := protectedSet(protected)
	var forgotten []string
	for _, item := range items {
		if limits.Within(count, total) {
			break
		}
		if _, ok := guard[item.path]; ok {
			continue
		}
		if err := os.Remove(item.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				count--
				total -= item.size
				forgotten = append(forgotten, item.name)
				continue
			}
			s.deferDelete(item.path, err)
			continue
		}
		count--
		total -= item.size
		result.Deleted = append(result.Deleted, item.path)
		result.FreedBytes += item.size
		forgotten = append(forgotten, item.name)
	}
	s.Forget(forgotten...)

	result.RemainingCount = count
	result.RemainingBytes = total
	result.OverLimit = !limits.Within(count, total)

	s.logger.WithFields(logrus.Fields{
		"action":    "cache_evict",
		"root":      s.root,
		"deleted":   len(result.Deleted),
		"freed":     humanize.IBytes(uint64(result.FreedBytes)),
		"remaining": count,
		"overLimit": result.OverLimit,
	}).Info("cache limits enforced")
	return result
}

// ClearAll 删除除受保护文件与索引本身以外的全部文件（包括写入中文件）。
func (s *Store) ClearAll(protected []string) ClearResult {
	var result ClearResult
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logScanError(err)
		return result
	}

	guard := protectedSet(protected)
	var forgotten []string
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, IndexFileName) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		path := filepath.Join(s.root, name)
		if _, ok := guard[path]; ok {
			result.Skipped++
			result.SkippedPaths = append(result.SkippedPaths, path)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Failed++
			s.deferDelete(path, err)
			continue
		}
		result.Deleted++
		result.DeletedPaths = append(result.DeletedPaths, path)
		result.FreedBytes += info.Size()
		forgotten = append(forgotten, name)
	}
	s.Forget(forgotten...)

	s.logger.WithFields(logrus.Fields{
		"action":  "cache_clear",
		"root":    s.root,
		"deleted": result.Deleted,
		"skipped": result.Skipped,
		"failed":  result.Failed,
		"freed":   humanize.IBytes(uint64(result.FreedBytes)),
	}).Info("cache cleared")
	return result
}

// DeleteSpecific 只删除调用方给出的路径。不存在、不在根目录下、是目录或是索引
// 文件本身的路径归为 missing；受保护路径归为 skipped。
func (s *Store) DeleteSpecific(paths []string, protected []string) DeleteResult {
	var result DeleteResult
	guard := protectedSet(protected)
	var forgotten []string

	for _, raw := range paths {
		path := absClean(raw)
		name := filepath.Base(path)
		if path == "" || filepath.Dir(path) != s.root || strings.HasPrefix(name, IndexFileName) {
			result.Missing = append(result.Missing, raw)
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			result.Missing = append(result.Missing, raw)
			continue
		}
		if _, ok := guard[path]; ok {
			result.Skipped = append(result.Skipped, raw)
			continue
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Missing = append(result.Missing, raw)
				continue
			}
			result.Failed = append(result.Failed, raw)
			s.deferDelete(path, err)
			continue
		}
		result.Deleted = append(result.Deleted, raw)
		result.FreedBytes += info.Size()
		forgotten = append(forgotten, name)
	}
	s.Forget(forgotten...)

	s.logger.WithFields(logrus.Fields{
		"action":  "cache_delete_selected",
		"root":    s.root,
		"deleted": len(result.Deleted),
		"skipped": len(result.Skipped),
		"missing": len(result.Missing),
		"failed":  len(result.Failed),
	}).Info("selected cache entries deleted")
	return result
}

func protectedSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if abs := absClean(p); abs != "" {
			set[abs] = struct{}{}
		}
	}
	return set
}

func absClean(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	return filepath.Clean(abs)
}
