package thumbnail

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/trackcache/trackcache/internal/cache"
)

const (
	// Ext 为缩略图载荷后缀。
	Ext = ".jpg"

	DefaultMaxFiles = 80
	DefaultMaxBytes = 32 << 20
	DefaultMaxEdge  = 512
	DefaultQuality  = 82
)

// Options 配置缩略图缓存；零值字段使用默认值。
type Options struct {
	MaxFiles int
	MaxBytes int64
	MaxEdge  int
	Quality  int
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Loader 为给定源文件解码原始封面图。
type Loader func(ctx context.Context, srcPath string) (image.Image, error)

// Stamp 标识源文件的一个具体版本。
type Stamp struct {
	Path           string
	Length         int64
	ModifiedMillis int64
}

// NewStamp 读取源文件的绝对路径、长度与 mtime。
func NewStamp(path string) (Stamp, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Stamp{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{
		Path:           abs,
		Length:         info.Size(),
		ModifiedMillis: info.ModTime().UnixMilli(),
	}, nil
}

// Key 返回 sha1("absPath|length|lastModifiedMillis") 的十六进制摘要。
func (s Stamp) Key() string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", s.Path, s.Length, s.ModifiedMillis)))
	return hex.EncodeToString(sum[:])
}

// Cache 是缩略图子缓存，底层复用 cache.Store（.tmp 为写入中后缀，无侧索引）。
type Cache struct {
	store   *cache.Store
	maxEdge int
	quality int
	logger  *logrus.Logger

	mu     sync.RWMutex
	limits cache.Limits

	group singleflight.Group
}

// New 在 root 下创建缩略图缓存。
func New(root string, opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	store, err := cache.NewStore(root, cache.Options{
		PartialSuffixes: []string{cache.TmpSuffix},
		DisableIndex:    true,
		Logger:          logger,
		Now:             opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("thumbnail store: %w", err)
	}

	c := &Cache{
		store:   store,
		maxEdge: opts.MaxEdge,
		quality: opts.Quality,
		logger:  logger,
	}
	if c.maxEdge <= 0 {
		c.maxEdge = DefaultMaxEdge
	}
	if c.quality <= 0 || c.quality > 100 {
		c.quality = DefaultQuality
	}
	c.SetLimits(cache.Limits{MaxCount: opts.MaxFiles, MaxBytes: opts.MaxBytes})
	return c, nil
}

// Store 暴露底层目录存储，供管理接口统计与清理。
func (c *Cache) Store() *cache.Store {
	return c.store
}

func (c *Cache) Limits() cache.Limits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits
}

// SetLimits 更新上限；非正数字段回落到默认值。
func (c *Cache) SetLimits(limits cache.Limits) {
	if limits.MaxCount <= 0 {
		limits.MaxCount = DefaultMaxFiles
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	c.mu.Lock()
	c.limits = limits
	c.mu.Unlock()
}

// Lookup 仅在 stamp 完全一致时命中，并刷新缩略图的 mtime。
func (c *Cache) Lookup(srcPath string) (string, bool) {
	stamp, err := NewStamp(srcPath)
	if err != nil {
		return "", false
	}
	path := c.pathFor(stamp.Key())
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
		return "", false
	}
	_, _ = c.store.Touch(path)
	return path, true
}

// Put 缩放并编码 img，经 <key>.tmp 发布为 <key>.jpg，随后同步执行淘汰。
// 任何失败都会删除临时文件并报告未命中。
func (c *Cache) Put(srcPath string, img image.Image) (string, bool) {
	if img == nil {
		return "", false
	}
	stamp, err := NewStamp(srcPath)
	if err != nil {
		return "", false
	}
	key := stamp.Key()
	final := c.pathFor(key)
	temp := filepath.Join(c.store.Root(), key+cache.TmpSuffix)

	fields := logrus.Fields{"action": "thumbnail_put", "source": stamp.Path, "key": key}
	if err := c.encode(temp, Scale(img, c.maxEdge)); err != nil {
		_ = os.Remove(temp)
		c.logger.WithFields(fields).WithError(err).Warn("thumbnail encode failed")
		return "", false
	}
	if !c.store.Commit(temp, final) {
		return "", false
	}

	// 新写入的缩略图本身受保护，避免刚发布就被淘汰。
	c.store.EnforceLimits(c.Limits(), []string{final})
	return final, true
}

// Get 先查缓存，未命中时对同一 key 只调用一次 load 并写入缓存。
func (c *Cache) Get(ctx context.Context, srcPath string, load Loader) (string, bool) {
	if path, ok := c.Lookup(srcPath); ok {
		return path, true
	}
	stamp, err := NewStamp(srcPath)
	if err != nil {
		return "", false
	}

	// 加载结果由同 key 的所有等待者共享，不随首个调用方取消。
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(stamp.Key(), func() (interface{}, error) {
		img, err := load(loadCtx, stamp.Path)
		if err != nil {
			return "", err
		}
		path, ok := c.Put(stamp.Path, img)
		if !ok {
			return "", errPutFailed
		}
		return path, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, ErrNoArtwork) && !errors.Is(res.Err, errPutFailed) {
				c.logger.WithFields(logrus.Fields{
					"action": "thumbnail_load",
					"source": stamp.Path,
				}).WithError(res.Err).Debug("artwork load failed")
			}
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		return "", false
	}
}

// Usage 返回缩略图数量与总字节数。
func (c *Cache) Usage() (int, int64) {
	return c.store.Usage()
}

// Prune 按当前上限执行一次淘汰。
func (c *Cache) Prune() cache.EvictionResult {
	return c.store.EnforceLimits(c.Limits(), nil)
}

// Clear 删除全部缩略图（含写入中文件）。
func (c *Cache) Clear() cache.ClearResult {
	return c.store.ClearAll(nil)
}

// Close 重试此前失败的删除。
func (c *Cache) Close() error {
	return c.store.Close()
}

var errPutFailed = errors.New("thumbnail put failed")

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.store.Root(), key+Ext)
}

func (c *Cache) encode(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: c.quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
