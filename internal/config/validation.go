package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error/fatal/panic")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}
	if strings.TrimSpace(g.CacheRoot) == "" {
		return newFieldError("Global.CacheRoot", "不能为空")
	}

	r := c.RemoteCache
	if err := validateDir("RemoteCache.Dir", r.Dir); err != nil {
		return err
	}
	if r.MaxTracks <= 0 {
		return newFieldError("RemoteCache.MaxTracks", "必须大于 0")
	}
	if r.MaxBytes <= 0 {
		return newFieldError("RemoteCache.MaxBytes", "必须大于 0")
	}
	if r.PartialMaxAge.DurationValue() < 0 {
		return newFieldError("RemoteCache.PartialMaxAge", "不能为负数")
	}

	th := c.Thumbnails
	if err := validateDir("Thumbnails.Dir", th.Dir); err != nil {
		return err
	}
	if th.MaxFiles <= 0 {
		return newFieldError("Thumbnails.MaxFiles", "必须大于 0")
	}
	if th.MaxBytes <= 0 {
		return newFieldError("Thumbnails.MaxBytes", "必须大于 0")
	}
	if th.MaxEdge < 16 {
		return newFieldError("Thumbnails.MaxEdge", "不能小于 16")
	}
	if th.Quality < 1 || th.Quality > 100 {
		return newFieldError("Thumbnails.Quality", "必须在 1-100")
	}

	a := c.ArchiveCache
	if err := validateDir("ArchiveCache.Dir", a.Dir); err != nil {
		return err
	}
	if a.MaxMounts <= 0 {
		return newFieldError("ArchiveCache.MaxMounts", "必须大于 0")
	}
	if a.MaxBytes <= 0 {
		return newFieldError("ArchiveCache.MaxBytes", "必须大于 0")
	}
	if a.MaxAge.DurationValue() <= 0 {
		return newFieldError("ArchiveCache.MaxAge", "必须大于 0")
	}

	roots := map[string]string{}
	for _, pair := range []struct{ field, root string }{
		{"RemoteCache.Dir", c.RemoteRoot()},
		{"Thumbnails.Dir", c.ThumbnailRoot()},
		{"ArchiveCache.Dir", c.ArchiveRoot()},
	} {
		if other, exists := roots[pair.root]; exists {
			return newFieldError(pair.field, "与 "+other+" 指向同一目录")
		}
		roots[pair.root] = pair.field
	}

	return nil
}

// validateDir 要求子目录非空，且相对路径不能跳出 CacheRoot。
func validateDir(field, dir string) error {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return newFieldError(field, "不能为空")
	}
	if filepath.IsAbs(trimmed) {
		return nil
	}
	clean := filepath.Clean(trimmed)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return newFieldError(field, "不能指向 CacheRoot 本身或其上级目录")
	}
	return nil
}
