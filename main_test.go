package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trackcache/trackcache/internal/config"
)

func TestConfigPathPriority(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "/tmp/env.toml")

	if got := config.ResolvePath(""); got != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", got)
	}
	if got := config.ResolvePath("/tmp/flag.toml"); got != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", got)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	configPath := validConfigFile(t, t.TempDir())
	if code := execute([]string{"check-config", "--config", configPath}); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	configPath := writeConfigFile(t, `
CacheRoot = "/tmp/trackcache"

[RemoteCache]
MaxTracks = 0
`)
	code := execute([]string{"check-config", "--config", configPath})
	if code != 1 {
		t.Fatalf("无效配置应返回退出码 1，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "RemoteCache.MaxTracks") {
		t.Fatalf("错误输出应包含字段路径: %s", stdErrBuffer().String())
	}
}

func TestRunUsageErrorExitCode(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"delete"}); code != 2 {
		t.Fatalf("缺少参数应返回退出码 2，得到 %d", code)
	}
	if code := execute([]string{"no-such-command"}); code != 2 {
		t.Fatalf("未知命令应返回退出码 2，得到 %d", code)
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := execute([]string{"version"})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "trackcache") {
		t.Fatalf("version 输出应包含 trackcache 标识")
	}
}

func TestListAndClearCommands(t *testing.T) {
	useBufferWriters(t)
	root := t.TempDir()
	configPath := validConfigFile(t, root)
	remote := filepath.Join(root, "remote")
	seedPayload(t, remote, "0123456789abcdef0123456789abcdef01234567_song.mp3", 2048)

	if code := execute([]string{"list", "--config", configPath}); code != 0 {
		t.Fatalf("list 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	out := stdOutBuffer().String()
	if !strings.Contains(out, "song.mp3") || !strings.Contains(out, "1 entries") {
		t.Fatalf("list 输出不符合预期: %s", out)
	}

	stdOutBuffer().Reset()
	if code := execute([]string{"clear", "--config", configPath}); code != 0 {
		t.Fatalf("clear 应成功，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "deleted 1") {
		t.Fatalf("clear 输出不符合预期: %s", stdOutBuffer().String())
	}
}

func TestPruneAndHygieneCommands(t *testing.T) {
	useBufferWriters(t)
	root := t.TempDir()
	configPath := writeConfigFile(t, fmt.Sprintf(`
CacheRoot = %q

[RemoteCache]
MaxTracks = 1
PartialMaxAge = "1h"
`, filepath.ToSlash(root)))
	remote := filepath.Join(root, "remote")
	old := seedPayload(t, remote, "1111111111111111111111111111111111111111_old.mp3", 10)
	seedPayload(t, remote, "2222222222222222222222222222222222222222_new.mp3", 10)
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	partial := seedPayload(t, remote, "3333333333333333333333333333333333333333_crash.mp3.part", 10)
	if err := os.Chtimes(partial, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if code := execute([]string{"hygiene", "--config", configPath}); code != 0 {
		t.Fatalf("hygiene 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), "removed 1 partial files, evicted 1 entries") {
		t.Fatalf("hygiene 输出不符合预期: %s", stdOutBuffer().String())
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("最旧条目应被淘汰")
	}

	stdOutBuffer().Reset()
	if code := execute([]string{"prune", "--config", configPath}); code != 0 {
		t.Fatalf("prune 应成功，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "evicted 0") {
		t.Fatalf("已在上限内时 prune 不应删除: %s", stdOutBuffer().String())
	}
}

func TestDeleteCommand(t *testing.T) {
	useBufferWriters(t)
	root := t.TempDir()
	configPath := validConfigFile(t, root)
	target := seedPayload(t, filepath.Join(root, "remote"), "4444444444444444444444444444444444444444_gone.mp3", 5)

	code := execute([]string{"delete", "--config", configPath, target, filepath.Join(root, "remote", "ghost.mp3")})
	if code != 0 {
		t.Fatalf("delete 应成功，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "1 of 2 selected files deleted (0 skipped, 1 missing, 0 failed)") {
		t.Fatalf("delete 输出不符合预期: %s", stdOutBuffer().String())
	}
}
