package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "trackcache.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = %q
CacheRoot = %q
ListenPort = 5300
`, filepath.ToSlash(logPath), filepath.ToSlash(filepath.Join(dir, "cache"))))

	useBufferWriters(t)
	if code := execute([]string{"check-config", "--config", configPath}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

func TestCheckConfigWritesRotatingLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "trackcache.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = %q
CacheRoot = %q
`, filepath.ToSlash(logPath), filepath.ToSlash(filepath.Join(dir, "cache"))))

	useBufferWriters(t)
	if code := execute([]string{"check-config", "--config", configPath}); code != 0 {
		t.Fatalf("check-config 应成功，得到 %d", code)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("日志文件应被创建: %v", err)
	}
	if !strings.Contains(string(data), `"action":"check_config"`) {
		t.Fatalf("日志应包含 check_config 记录: %s", data)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// validConfigFile 写入一个以 root 为 CacheRoot 的最小配置。
func validConfigFile(t *testing.T, root string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf("CacheRoot = %q\nLogLevel = \"error\"\n", filepath.ToSlash(root)))
}

func seedPayload(t *testing.T, dir, name string, size int) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0o644); err != nil {
		t.Fatalf("写入载荷失败: %v", err)
	}
	return path
}
