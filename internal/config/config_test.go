package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeTempConfig(t, `
LogLevel = "debug"
CacheRoot = "`+filepath.ToSlash(root)+`"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5300 {
		t.Fatalf("ListenPort 应使用默认值, got %d", cfg.Global.ListenPort)
	}
	if cfg.RemoteCache.MaxTracks != 100 {
		t.Fatalf("MaxTracks 默认应为 100, got %d", cfg.RemoteCache.MaxTracks)
	}
	if cfg.RemoteCache.MaxBytes.Int64() != 1<<30 {
		t.Fatalf("MaxBytes 默认应为 1GiB, got %d", cfg.RemoteCache.MaxBytes)
	}
	if cfg.RemoteCache.PartialMaxAge.DurationValue() != 24*time.Hour {
		t.Fatalf("PartialMaxAge 默认应为 24h")
	}
	if cfg.Thumbnails.MaxFiles != 80 || cfg.Thumbnails.MaxBytes.Int64() != 32<<20 {
		t.Fatalf("缩略图默认上限不正确: %+v", cfg.Thumbnails)
	}
	if cfg.Thumbnails.Quality != 82 || cfg.Thumbnails.MaxEdge != 512 {
		t.Fatalf("缩略图编码默认值不正确: %+v", cfg.Thumbnails)
	}
	if cfg.ArchiveCache.MaxAge.DurationValue() != 168*time.Hour {
		t.Fatalf("ArchiveCache.MaxAge 默认应为 168h")
	}
	if cfg.RemoteRoot() != filepath.Join(root, "remote") {
		t.Fatalf("RemoteRoot 应位于 CacheRoot 下, got %s", cfg.RemoteRoot())
	}
	if cfg.ThumbnailRoot() != filepath.Join(root, "thumbs") {
		t.Fatalf("ThumbnailRoot 应位于 CacheRoot 下, got %s", cfg.ThumbnailRoot())
	}
}

func TestLoadParsesSections(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeTempConfig(t, `
ListenPort = 6100
CacheRoot = "`+filepath.ToSlash(root)+`"

[RemoteCache]
MaxTracks = 25
MaxBytes = "256MiB"
ClearOnLaunch = true
PartialMaxAge = 3600

[Thumbnails]
Dir = "art"
MaxFiles = 10
MaxBytes = 1048576
Quality = 70

[ArchiveCache]
MaxMounts = 2
MaxAge = "12h"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 6100 {
		t.Fatalf("ListenPort 未解析")
	}
	if cfg.RemoteCache.MaxTracks != 25 || cfg.RemoteCache.MaxBytes.Int64() != 256<<20 || !cfg.RemoteCache.ClearOnLaunch {
		t.Fatalf("RemoteCache 解析错误: %+v", cfg.RemoteCache)
	}
	if cfg.RemoteCache.PartialMaxAge.DurationValue() != time.Hour {
		t.Fatalf("整数秒应解析为 Duration, got %v", cfg.RemoteCache.PartialMaxAge.DurationValue())
	}
	if cfg.Thumbnails.MaxBytes.Int64() != 1<<20 || cfg.ThumbnailRoot() != filepath.Join(root, "art") {
		t.Fatalf("Thumbnails 解析错误: %+v", cfg.Thumbnails)
	}
	if cfg.Thumbnails.MaxEdge != 512 {
		t.Fatalf("未配置的字段应保留默认值")
	}
	if cfg.ArchiveCache.MaxMounts != 2 || cfg.ArchiveCache.MaxAge.DurationValue() != 12*time.Hour {
		t.Fatalf("ArchiveCache 解析错误: %+v", cfg.ArchiveCache)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateFieldErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Global.LogLevel = "loud" }, "Global.LogLevel"},
		{"zero tracks", func(c *Config) { c.RemoteCache.MaxTracks = 0 }, "RemoteCache.MaxTracks"},
		{"zero bytes", func(c *Config) { c.RemoteCache.MaxBytes = 0 }, "RemoteCache.MaxBytes"},
		{"quality range", func(c *Config) { c.Thumbnails.Quality = 101 }, "Thumbnails.Quality"},
		{"tiny edge", func(c *Config) { c.Thumbnails.MaxEdge = 4 }, "Thumbnails.MaxEdge"},
		{"escaping dir", func(c *Config) { c.RemoteCache.Dir = "../outside" }, "RemoteCache.Dir"},
		{"empty dir", func(c *Config) { c.Thumbnails.Dir = " " }, "Thumbnails.Dir"},
		{"archive age", func(c *Config) { c.ArchiveCache.MaxAge = 0 }, "ArchiveCache.MaxAge"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsSharedDirectories(t *testing.T) {
	cfg := validConfig()
	cfg.Thumbnails.Dir = "remote"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("两个缓存共用目录应报错")
	}

	// 三个目录相同时，报错字段应稳定为按声明顺序第二个出现的字段。
	cfg.ArchiveCache.Dir = "remote"
	for i := 0; i < 20; i++ {
		var fieldErr FieldError
		if !errors.As(cfg.Validate(), &fieldErr) || fieldErr.Field != "Thumbnails.Dir" {
			t.Fatalf("第 %d 次校验字段不稳定: %+v", i, fieldErr)
		}
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
