package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trackcache/trackcache/internal/identity"
)

// Store 是一个缓存根目录的显式句柄；所有操作都是它的方法，不依赖全局状态。
type Store struct {
	root     string
	partials []string
	index    *sourceIndex
	logger   *logrus.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]struct{}
}

// payload 为目录扫描得到的可见载荷文件。
type payload struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// NewStore 以 root 为根目录构建缓存句柄，目录不存在时自动创建。
func NewStore(root string, opts Options) (*Store, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	partials := opts.PartialSuffixes
	if len(partials) == 0 {
		partials = []string{PartSuffix}
	}

	s := &Store{
		root:     abs,
		partials: append([]string(nil), partials...),
		logger:   logger,
		now:      now,
		pending:  make(map[string]struct{}),
	}
	if !opts.DisableIndex {
		s.index = newSourceIndex(filepath.Join(abs, IndexFileName), logger)
	}
	return s, nil
}

// Root 返回缓存根目录的绝对路径。
func (s *Store) Root() string {
	return s.root
}

// FindExisting 以 "<sha1>_" 前缀扫描根目录，返回第一个非 partial 且非空的载荷。
// 目录项按文件名排序扫描，因此重复调用结果一致；该方法不修改任何文件。
func (s *Store) FindExisting(locator string) (Entry, bool) {
	prefix := identity.KeyPrefix(locator)
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logScanError(err)
		return Entry{}, false
	}
	for _, de := range dirEntries {
		name := de.Name()
		if !strings.HasPrefix(name, prefix) || !s.isPayloadName(name) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
			continue
		}
		return s.entryFor(name, info), true
	}
	return Entry{}, false
}

// EntryAt 返回根目录下指定路径的载荷描述，并附带侧索引中的来源。
func (s *Store) EntryAt(path string) (Entry, bool) {
	path = absClean(path)
	name := filepath.Base(path)
	if path == "" || filepath.Dir(path) != s.root || !s.isPayloadName(name) {
		return Entry{}, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
		return Entry{}, false
	}
	entry := s.entryFor(name, info)
	if s.index != nil {
		entry.SourceIdentity = s.index.lookup(name)
	}
	return entry, true
}

// IsCached 判断 locator 是否已有可用载荷。
func (s *Store) IsCached(locator string) bool {
	_, ok := s.FindExisting(locator)
	return ok
}

// Acquire 是缓存命中路径：定位载荷并刷新其 mtime，使 LRU 近似保持准确。
func (s *Store) Acquire(locator string) (Entry, bool) {
	entry, ok := s.FindExisting(locator)
	if !ok {
		return Entry{}, false
	}
	if now, err := s.Touch(entry.Path); err == nil {
		entry.LastAccessedAt = now
	}
	if s.index != nil {
		entry.SourceIdentity = s.index.lookup(entry.FileName)
	}
	return entry, true
}

// Open 命中时返回可读句柄并刷新 mtime，不存在时返回 ErrNotFound。
func (s *Store) Open(locator string) (*ReadResult, error) {
	entry, ok := s.Acquire(locator)
	if !ok {
		return nil, ErrNotFound
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ReadResult{Entry: entry, Reader: f}, nil
}

// Touch 将文件的 atime/mtime 设置为当前时间。
func (s *Store) Touch(path string) (time.Time, error) {
	now := s.now()
	if err := s.SetModTime(path, now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Reserve 计算 locator 对应的最终文件与写入中临时文件路径。
func (s *Store) Reserve(locator, contentDisposition string) Reservation {
	id := identity.Resolve(locator, contentDisposition)
	final := filepath.Join(s.root, id.FileName)
	return Reservation{
		Identity:  id,
		TempPath:  final + s.partials[0],
		FinalPath: final,
	}
}

// Commit 通过 rename 原子发布已完成的临时文件。rename 失败或结果为空文件时
// 返回 false 并清理临时文件，空文件永远不会作为有效缓存存在。
func (s *Store) Commit(tempPath, finalPath string) bool {
	fields := logrus.Fields{
		"action": "cache_commit",
		"temp":   tempPath,
		"final":  finalPath,
	}

	info, err := os.Stat(tempPath)
	if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
		_ = os.Remove(tempPath)
		entry := s.logger.WithFields(fields)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("commit rejected empty or missing temp file")
		return false
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		s.logger.WithFields(fields).WithError(err).Warn("commit rename failed")
		return false
	}

	info, err = os.Stat(finalPath)
	if err != nil || info.Size() <= 0 {
		_ = os.Remove(finalPath)
		s.logger.WithFields(fields).Warn("commit produced empty file")
		return false
	}

	s.logger.WithFields(fields).WithField("size", info.Size()).Debug("cache entry published")
	return true
}

// DropSiblings 删除与 finalPath 共享 "<cacheKey>_" 前缀的其他载荷，保证每个 key
// 至多对应一个载荷文件（同一 locator 换了 Content-Disposition 重新发布时出现）。
// 写入中文件不受影响。返回被删除的路径。
func (s *Store) DropSiblings(finalPath string) []string {
	keep := filepath.Base(finalPath)
	key := keyFromName(keep)
	if key == "" || keep[identity.KeyLength] != '_' {
		return nil
	}
	prefix := key + "_"

	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logScanError(err)
		return nil
	}
	var removed, forgotten []string
	for _, de := range dirEntries {
		name := de.Name()
		if name == keep || !strings.HasPrefix(name, prefix) || !s.isPayloadName(name) || de.IsDir() {
			continue
		}
		path := filepath.Join(s.root, name)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.deferDelete(path, err)
				continue
			}
		} else {
			removed = append(removed, path)
		}
		forgotten = append(forgotten, name)
	}
	s.Forget(forgotten...)

	if len(removed) > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":  "cache_drop_siblings",
			"root":    s.root,
			"keep":    keep,
			"removed": len(removed),
		}).Info("removed superseded payloads")
	}
	return removed
}

// Remember 将 fileName → sourceIdentity 写入侧索引并整体重写。
func (s *Store) Remember(fileName, sourceIdentity string) {
	if s.index == nil {
		return
	}
	s.index.update(func(m map[string]string) bool {
		if m[fileName] == sourceIdentity {
			return false
		}
		m[fileName] = sourceIdentity
		return true
	})
}

// Forget 从侧索引移除给定文件名。
func (s *Store) Forget(fileNames ...string) {
	if s.index == nil || len(fileNames) == 0 {
		return
	}
	s.index.update(func(m map[string]string) bool {
		changed := false
		for _, name := range fileNames {
			if _, ok := m[name]; ok {
				delete(m, name)
				changed = true
			}
		}
		return changed
	})
}

// SourceIndex 返回侧索引快照；缺失或损坏时为空 map。
func (s *Store) SourceIndex() map[string]string {
	if s.index == nil {
		return map[string]string{}
	}
	return s.index.snapshot()
}

// List 先清理指向已不存在载荷的索引项，再按最近修改时间倒序返回全部载荷。
func (s *Store) List() []Entry {
	items := s.payloads()

	sources := map[string]string{}
	if s.index != nil {
		present := make(map[string]struct{}, len(items))
		for _, item := range items {
			present[item.name] = struct{}{}
		}
		sources = s.index.retain(present)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].modTime.Equal(items[j].modTime) {
			return items[i].modTime.After(items[j].modTime)
		}
		return items[i].name < items[j].name
	})

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entry := item.entry()
		entry.SourceIdentity = sources[item.name]
		entries = append(entries, entry)
	}
	return entries
}

// Usage 返回当前可见载荷的数量与总字节数。
func (s *Store) Usage() (int, int64) {
	items := s.payloads()
	var total int64
	for _, item := range items {
		total += item.size
	}
	return len(items), total
}

// SweepPartials 删除早于 olderThan 的遗留写入中文件（进程崩溃后的残留）。
// olderThan <= 0 时删除全部 partial 文件。
func (s *Store) SweepPartials(olderThan time.Duration) int {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logScanError(err)
		return 0
	}
	cutoff := s.now().Add(-olderThan)
	removed := 0
	for _, de := range dirEntries {
		name := de.Name()
		if !s.isPartialName(name) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if olderThan > 0 && info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":  "cache_sweep_partials",
			"root":    s.root,
			"removed": removed,
		}).Info("removed orphaned partial files")
	}
	return removed
}

// Close 重试此前删除失败的文件，对应"进程退出时尽力删除"的语义。
func (s *Store) Close() error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.mu.Lock()
		delete(s.pending, p)
		s.mu.Unlock()
		s.Forget(filepath.Base(p))
	}
	return errors.Join(errs...)
}

// PendingDeletes 返回等待重试删除的文件数。
func (s *Store) PendingDeletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) deferDelete(path string, cause error) {
	s.mu.Lock()
	s.pending[path] = struct{}{}
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"action": "cache_delete",
		"path":   path,
	}).WithError(cause).Warn("delete failed, retrying on close")
}

func (s *Store) payloads() []payload {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		s.logScanError(err)
		return nil
	}
	items := make([]payload, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !s.isPayloadName(name) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		items = append(items, payload{
			name:    name,
			path:    filepath.Join(s.root, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return items
}

// isPayloadName 排除隐藏文件（索引及其临时文件）和写入中文件。
func (s *Store) isPayloadName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !s.isPartialName(name)
}

func (s *Store) isPartialName(name string) bool {
	for _, suffix := range s.partials {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (s *Store) entryFor(name string, info fs.FileInfo) Entry {
	return payload{
		name:    name,
		path:    filepath.Join(s.root, name),
		size:    info.Size(),
		modTime: info.ModTime(),
	}.entry()
}

func (p payload) entry() Entry {
	return Entry{
		CacheKey:       keyFromName(p.name),
		FileName:       p.name,
		Path:           p.path,
		SizeBytes:      p.size,
		LastAccessedAt: p.modTime,
	}
}

// keyFromName 从 "<sha1>_leaf" 或 "<sha1>.jpg" 中取出 sha1 前缀。
func keyFromName(name string) string {
	if len(name) > identity.KeyLength {
		if c := name[identity.KeyLength]; (c == '_' || c == '.') && identity.IsKey(name[:identity.KeyLength]) {
			return name[:identity.KeyLength]
		}
	}
	return ""
}

func (s *Store) logScanError(err error) {
	s.logger.WithFields(logrus.Fields{
		"action": "cache_scan",
		"root":   s.root,
	}).WithError(err).Warn("unable to read cache root")
}
