package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trackcache/trackcache/internal/admin"
	"github.com/trackcache/trackcache/internal/cache"
	"github.com/trackcache/trackcache/internal/config"
	"github.com/trackcache/trackcache/internal/logging"
	"github.com/trackcache/trackcache/internal/thumbnail"
	"github.com/trackcache/trackcache/internal/version"
)

// cliOptions 汇总全局标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// runtimeError 标记业务失败（退出码 1），其余错误视为用法错误（退出码 2）。
type runtimeError struct {
	err error
}

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

func fail(format string, args ...any) error {
	return runtimeError{err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 运行 CLI 并返回退出码，方便测试。
func execute(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		var rt runtimeError
		if errors.As(err, &rt) {
			return 1
		}
		return 2
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           version.Name,
		Short:         "Bounded on-disk cache for remote audio sources and artwork thumbnails",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.configPath = config.ResolvePath(opts.configPath)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"配置文件路径（默认 ./config.toml，可被 "+config.EnvConfigPath+" 覆盖）")

	root.AddCommand(
		newServeCmd(opts),
		newListCmd(opts),
		newClearCmd(opts),
		newDeleteCmd(opts),
		newPruneCmd(opts),
		newHygieneCmd(opts),
		newCheckConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// runtimeDeps 为各子命令共享的运行时依赖。
type runtimeDeps struct {
	cfg    *config.Config
	logger *logrus.Logger
	admin  *admin.Service
}

// bootstrap 遵循"配置 → 日志 → 磁盘缓存 → 管理服务"的顺序构建依赖。
// quiet 为 true 时日志被丢弃，避免污染只读子命令的输出。
func bootstrap(configPath string, quiet bool) (*runtimeDeps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fail("加载配置失败: %w", err)
	}

	var logger *logrus.Logger
	if quiet {
		logger = logging.Quiet()
	} else {
		logger, err = logging.InitLogger(cfg.Global)
		if err != nil {
			return nil, fail("初始化日志失败: %w", err)
		}
	}

	store, err := cache.NewStore(cfg.RemoteRoot(), cache.Options{Logger: logger})
	if err != nil {
		return nil, fail("初始化缓存目录失败: %w", err)
	}
	thumbs, err := thumbnail.New(cfg.ThumbnailRoot(), thumbnail.Options{
		MaxFiles: cfg.Thumbnails.MaxFiles,
		MaxBytes: cfg.Thumbnails.MaxBytes.Int64(),
		MaxEdge:  cfg.Thumbnails.MaxEdge,
		Quality:  cfg.Thumbnails.Quality,
		Logger:   logger,
	})
	if err != nil {
		return nil, fail("初始化缩略图缓存失败: %w", err)
	}

	svc, err := admin.New(admin.Options{
		Store:      store,
		Thumbnails: thumbs,
		Limits:     remoteLimits(cfg),
		Logger:     logger,
	})
	if err != nil {
		return nil, fail("初始化管理服务失败: %w", err)
	}
	return &runtimeDeps{cfg: cfg, logger: logger, admin: svc}, nil
}

func (d *runtimeDeps) close() {
	if err := d.admin.Close(); err != nil {
		d.logger.WithFields(logging.BaseFields("shutdown", "")).WithError(err).Warn("pending deletes could not be completed")
	}
}

func remoteLimits(cfg *config.Config) cache.Limits {
	return cache.Limits{MaxCount: cfg.RemoteCache.MaxTracks, MaxBytes: cfg.RemoteCache.MaxBytes.Int64()}
}

func thumbnailLimits(cfg *config.Config) cache.Limits {
	return cache.Limits{MaxCount: cfg.Thumbnails.MaxFiles, MaxBytes: cfg.Thumbnails.MaxBytes.Int64()}
}

func launchPolicy(cfg *config.Config) admin.LaunchPolicy {
	return admin.LaunchPolicy{
		ClearOnLaunch: cfg.RemoteCache.ClearOnLaunch,
		PartialMaxAge: cfg.RemoteCache.PartialMaxAge.DurationValue(),
	}
}

// signalContext 在收到 SIGINT/SIGTERM 时取消。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
