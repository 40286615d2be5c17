package cache

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trackcache/trackcache/internal/identity"
)

const (
	// PartSuffix 标记远程音频的写入中文件。
	PartSuffix = ".part"
	// TmpSuffix 标记缩略图与索引重写的写入中文件。
	TmpSuffix = ".tmp"
)

// Options 控制单个缓存根目录的行为，远程音频缓存与缩略图缓存各自持有一份。
type Options struct {
	// PartialSuffixes 列出视为"写入中"的后缀，第一个用于 Reserve 生成临时路径。
	PartialSuffixes []string
	// DisableIndex 关闭 .source_index.json 侧索引（缩略图缓存不需要）。
	DisableIndex bool
	Logger       *logrus.Logger
	// Now 便于测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Entry 描述一个已发布的缓存载荷文件。
type Entry struct {
	CacheKey       string    `json:"cache_key"`
	FileName       string    `json:"file_name"`
	Path           string    `json:"path"`
	SizeBytes      int64     `json:"size_bytes"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	// SourceIdentity 为侧索引记录的原始 locator，未映射时为空。
	SourceIdentity string `json:"source_identity,omitempty"`
}

// Reservation 告诉下载方应写入的临时文件以及发布时的最终路径。
type Reservation struct {
	identity.Identity
	TempPath  string `json:"temp_path"`
	FinalPath string `json:"final_path"`
}

// ReadResult 组合 Entry 与正文 Reader，便于上层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCommitFailed 表示 rename 失败或发布结果为空文件。
	ErrCommitFailed = errors.New("cache commit failed")
)
