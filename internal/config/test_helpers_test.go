package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort: 5300,
			LogLevel:   "info",
			CacheRoot:  "/var/cache/trackcache",
		},
		RemoteCache: RemoteCacheConfig{
			Dir:           "remote",
			MaxTracks:     100,
			MaxBytes:      1 << 30,
			PartialMaxAge: Duration(0),
		},
		Thumbnails: ThumbnailConfig{
			Dir:      "thumbs",
			MaxFiles: 80,
			MaxBytes: 32 << 20,
			MaxEdge:  512,
			Quality:  82,
		},
		ArchiveCache: ArchiveCacheConfig{
			Dir:       "archives",
			MaxMounts: 8,
			MaxBytes:  512 << 20,
			MaxAge:    Duration(168 * time.Hour),
		},
	}
}
