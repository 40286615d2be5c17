package admin

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/trackcache/trackcache/internal/cache"
	"github.com/trackcache/trackcache/internal/identity"
	"github.com/trackcache/trackcache/internal/thumbnail"
)

// Options 描述管理服务依赖；Thumbnails 与 Playback 可选。
type Options struct {
	Store       *cache.Store
	Thumbnails  *thumbnail.Cache
	Limits      cache.Limits
	ThumbLimits cache.Limits
	Playback    *Playback
	Logger      *logrus.Logger
}

// EntryView 是面向设置界面的条目视图，DisplayName 去掉了 sha1 前缀，仅用于展示。
type EntryView struct {
	DisplayName    string    `json:"display_name"`
	FileName       string    `json:"file_name"`
	Path           string    `json:"path"`
	SizeBytes      int64     `json:"size_bytes"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	SourceIdentity string    `json:"source_identity,omitempty"`
}

// Summary 为远程音频缓存的完整快照。
type Summary struct {
	Entries    []EntryView  `json:"entries"`
	TotalBytes int64        `json:"total_bytes"`
	Count      int          `json:"count"`
	Limits     cache.Limits `json:"limits"`
}

// Usage 为单个缓存根目录的用量与上限。
type Usage struct {
	Root   string       `json:"root"`
	Count  int          `json:"count"`
	Bytes  int64        `json:"bytes"`
	Limits cache.Limits `json:"limits"`
}

// Service 串联缓存存储、缩略图缓存与播放保护。
type Service struct {
	store    *cache.Store
	thumbs   *thumbnail.Cache
	playback *Playback
	logger   *logrus.Logger

	mu     sync.RWMutex
	limits cache.Limits
}

// ErrStoreRequired 表示未提供远程缓存存储。
var ErrStoreRequired = errors.New("admin: cache store required")

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	playback := opts.Playback
	if playback == nil {
		playback = NewPlayback()
	}
	svc := &Service{
		store:    opts.Store,
		thumbs:   opts.Thumbnails,
		playback: playback,
		logger:   logger,
		limits:   opts.Limits.Normalize(),
	}
	if svc.thumbs != nil && (opts.ThumbLimits.MaxCount > 0 || opts.ThumbLimits.MaxBytes > 0) {
		svc.thumbs.SetLimits(opts.ThumbLimits)
	}
	return svc, nil
}

func (s *Service) Store() *cache.Store {
	return s.store
}

func (s *Service) Thumbnails() *thumbnail.Cache {
	return s.thumbs
}

func (s *Service) Playback() *Playback {
	return s.playback
}

func (s *Service) Limits() cache.Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// SetLimits 热更新远程缓存上限，不立即触发淘汰。
func (s *Service) SetLimits(limits cache.Limits) {
	limits = limits.Normalize()
	s.mu.Lock()
	s.limits = limits
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"action":    "limits_update",
		"maxTracks": limits.MaxCount,
		"maxBytes":  humanize.IBytes(uint64(limits.MaxBytes)),
	}).Info("cache limits updated")
}

// SetThumbnailLimits 热更新缩略图缓存上限。
func (s *Service) SetThumbnailLimits(limits cache.Limits) {
	if s.thumbs != nil {
		s.thumbs.SetLimits(limits)
	}
}

// Snapshot 枚举缓存条目（最近访问在前）及总字节数。
func (s *Service) Snapshot() Summary {
	entries := s.store.List()
	summary := Summary{
		Entries: make([]EntryView, 0, len(entries)),
		Count:   len(entries),
		Limits:  s.Limits(),
	}
	for _, entry := range entries {
		summary.TotalBytes += entry.SizeBytes
		summary.Entries = append(summary.Entries, EntryView{
			DisplayName:    identity.StripKeyPrefix(entry.FileName),
			FileName:       entry.FileName,
			Path:           entry.Path,
			SizeBytes:      entry.SizeBytes,
			LastAccessedAt: entry.LastAccessedAt,
			SourceIdentity: entry.SourceIdentity,
		})
	}
	return summary
}

// RemoteUsage 返回远程缓存用量。
func (s *Service) RemoteUsage() Usage {
	count, bytes := s.store.Usage()
	return Usage{Root: s.store.Root(), Count: count, Bytes: bytes, Limits: s.Limits()}
}

// ThumbnailUsage 返回缩略图缓存用量；未启用时 ok 为 false。
func (s *Service) ThumbnailUsage() (Usage, bool) {
	if s.thumbs == nil {
		return Usage{}, false
	}
	count, bytes := s.thumbs.Usage()
	return Usage{
		Root:   s.thumbs.Store().Root(),
		Count:  count,
		Bytes:  bytes,
		Limits: s.thumbs.Limits(),
	}, true
}

// Lookup 是缓存命中路径，会刷新载荷 mtime。
func (s *Service) Lookup(locator string) (cache.Entry, bool) {
	return s.store.Acquire(locator)
}

// Open 供播放引擎读取已缓存的载荷，命中时刷新 mtime；未命中返回 cache.ErrNotFound。
func (s *Service) Open(locator string) (*cache.ReadResult, error) {
	return s.store.Open(locator)
}

// Reserve 为下载方分配临时与最终路径；已缓存时同时返回现有条目。
func (s *Service) Reserve(locator, contentDisposition string) (cache.Reservation, *cache.Entry) {
	res := s.store.Reserve(locator, contentDisposition)
	if existing, ok := s.store.FindExisting(locator); ok {
		return res, &existing
	}
	return res, nil
}

// ClearNow 清空远程缓存，当前播放文件除外。
func (s *Service) ClearNow() cache.ClearResult {
	return s.store.ClearAll(s.playback.ProtectedPaths())
}

// DeleteSelected 删除用户选中的绝对路径列表。
func (s *Service) DeleteSelected(paths []string) cache.DeleteResult {
	return s.store.DeleteSpecific(paths, s.playback.ProtectedPaths())
}

// Prune 按当前上限淘汰远程缓存。
func (s *Service) Prune() cache.EvictionResult {
	return s.store.EnforceLimits(s.Limits(), s.playback.ProtectedPaths())
}

// PruneThumbnails 按缩略图上限淘汰。
func (s *Service) PruneThumbnails() cache.EvictionResult {
	if s.thumbs == nil {
		return cache.EvictionResult{}
	}
	return s.thumbs.Prune()
}

// ClearThumbnails 删除全部缩略图。
func (s *Service) ClearThumbnails() cache.ClearResult {
	if s.thumbs == nil {
		return cache.ClearResult{}
	}
	return s.thumbs.Clear()
}

// Publish 是下载完成后的交接：校验路径归属，rename 发布，删除同 key 的旧载荷，
// 登记来源，然后同步淘汰。
// 刚发布的文件与当前播放文件在本轮淘汰中都受保护。
func (s *Service) Publish(locator, tempPath, finalPath string) (cache.Entry, bool) {
	fields := logrus.Fields{"action": "cache_publish", "locator": locator, "final": finalPath}

	root := s.store.Root()
	final := filepath.Clean(finalPath)
	temp := filepath.Clean(tempPath)
	if !filepath.IsAbs(final) || !filepath.IsAbs(temp) ||
		filepath.Dir(final) != root || filepath.Dir(temp) != root ||
		!strings.HasPrefix(filepath.Base(final), identity.KeyPrefix(locator)) ||
		!strings.HasSuffix(temp, cache.PartSuffix) {
		s.logger.WithFields(fields).WithField("temp", tempPath).Warn("publish rejected: path outside cache root or key mismatch")
		return cache.Entry{}, false
	}

	if !s.store.Commit(temp, final) {
		return cache.Entry{}, false
	}
	s.store.DropSiblings(final)
	s.store.Remember(filepath.Base(final), locator)

	protected := append(s.playback.ProtectedPaths(), final)
	s.store.EnforceLimits(s.Limits(), protected)

	entry, ok := s.store.EntryAt(final)
	if !ok {
		s.logger.WithFields(fields).Warn("published entry vanished")
		return cache.Entry{}, false
	}
	return entry, true
}

// Close 重试两个缓存中此前失败的删除。
func (s *Service) Close() error {
	var errs []error
	errs = append(errs, s.store.Close())
	if s.thumbs != nil {
		errs = append(errs, s.thumbs.Close())
	}
	return errors.Join(errs...)
}
