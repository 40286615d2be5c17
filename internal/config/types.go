package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"24h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 接受纯字节数或 "1GiB"、"512MB" 这类人类可读写法。
type ByteSize int64

// UnmarshalText 通过 go-humanize 解析字节数。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 返回字节数。
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 以 IEC 单位输出，例如 "1.0 GiB"。
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	parsed, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	return ByteSize(parsed), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级参数：日志、管理端口与缓存根目录。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	CacheRoot     string `mapstructure:"CacheRoot"`
}

// RemoteCacheConfig 对应远程音频缓存（HTTP/SMB 下载结果）。
type RemoteCacheConfig struct {
	Dir           string   `mapstructure:"Dir"`
	MaxTracks     int      `mapstructure:"MaxTracks"`
	MaxBytes      ByteSize `mapstructure:"MaxBytes"`
	ClearOnLaunch bool     `mapstructure:"ClearOnLaunch"`
	PartialMaxAge Duration `mapstructure:"PartialMaxAge"`
}

// ThumbnailConfig 对应封面缩略图缓存。
type ThumbnailConfig struct {
	Dir      string   `mapstructure:"Dir"`
	MaxFiles int      `mapstructure:"MaxFiles"`
	MaxBytes ByteSize `mapstructure:"MaxBytes"`
	MaxEdge  int      `mapstructure:"MaxEdge"`
	Quality  int      `mapstructure:"Quality"`
}

// ArchiveCacheConfig 描述压缩包挂载缓存；本进程只校验并上报，不负责挂载。
type ArchiveCacheConfig struct {
	Dir           string   `mapstructure:"Dir"`
	MaxMounts     int      `mapstructure:"MaxMounts"`
	MaxBytes      ByteSize `mapstructure:"MaxBytes"`
	MaxAge        Duration `mapstructure:"MaxAge"`
	ClearOnLaunch bool     `mapstructure:"ClearOnLaunch"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	RemoteCache  RemoteCacheConfig  `mapstructure:"RemoteCache"`
	Thumbnails   ThumbnailConfig    `mapstructure:"Thumbnails"`
	ArchiveCache ArchiveCacheConfig `mapstructure:"ArchiveCache"`
}

// RemoteRoot 返回远程音频缓存目录；相对 Dir 以 CacheRoot 为基准。
func (c *Config) RemoteRoot() string {
	return c.sectionRoot(c.RemoteCache.Dir)
}

// ThumbnailRoot 返回缩略图缓存目录。
func (c *Config) ThumbnailRoot() string {
	return c.sectionRoot(c.Thumbnails.Dir)
}

// ArchiveRoot 返回压缩包挂载缓存目录。
func (c *Config) ArchiveRoot() string {
	return c.sectionRoot(c.ArchiveCache.Dir)
}

func (c *Config) sectionRoot(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(c.Global.CacheRoot, dir)
}
