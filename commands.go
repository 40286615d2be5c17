package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/trackcache/trackcache/internal/config"
	"github.com/trackcache/trackcache/internal/logging"
	"github.com/trackcache/trackcache/internal/server"
	"github.com/trackcache/trackcache/internal/server/routes"
	"github.com/trackcache/trackcache/internal/version"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "执行启动清理后运行管理 HTTP 接口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, false)
			if err != nil {
				return err
			}
			defer deps.close()

			cfg := deps.cfg
			report := deps.admin.RunLaunchHygiene(launchPolicy(cfg))
			fields := logging.BaseFields("startup", opts.configPath)
			fields["listen_port"] = cfg.Global.ListenPort
			fields["remote_root"] = cfg.RemoteRoot()
			fields["thumbnail_root"] = cfg.ThumbnailRoot()
			fields["partials_removed"] = report.PartialsRemoved
			fields["version"] = version.Full()
			deps.logger.WithFields(fields).Info("配置加载完成")

			ctx, cancel := signalContext()
			defer cancel()

			err = config.Watch(ctx, opts.configPath, func(next *config.Config) {
				deps.admin.SetLimits(remoteLimits(next))
				deps.admin.SetThumbnailLimits(thumbnailLimits(next))
			}, func(err error) {
				deps.logger.WithFields(logging.BaseFields("config_reload", opts.configPath)).WithError(err).Warn("配置重载失败，沿用旧配置")
			})
			if err != nil {
				deps.logger.WithFields(logging.BaseFields("config_watch", opts.configPath)).WithError(err).Warn("无法监听配置变更")
			}

			if err := startHTTPServer(ctx, deps, cfg); err != nil {
				return fail("HTTP 服务启动失败: %w", err)
			}
			return nil
		},
	}
}

func startHTTPServer(ctx context.Context, deps *runtimeDeps, cfg *config.Config) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     deps.logger,
		Admin:      deps.admin,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.Register(app, deps.admin, &routes.ArchiveStatus{
		Root:          cfg.ArchiveRoot(),
		MaxMounts:     cfg.ArchiveCache.MaxMounts,
		MaxBytes:      cfg.ArchiveCache.MaxBytes.Int64(),
		MaxAgeSeconds: int64(cfg.ArchiveCache.MaxAge.DurationValue() / time.Second),
		ClearOnLaunch: cfg.ArchiveCache.ClearOnLaunch,
	})

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	deps.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
}

func newListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出远程音频缓存条目（最近访问在前）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, true)
			if err != nil {
				return err
			}
			defer deps.close()

			summary := deps.admin.Snapshot()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tLAST ACCESS\tSOURCE")
			for _, entry := range summary.Entries {
				source := entry.SourceIdentity
				if source == "" {
					source = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					entry.DisplayName,
					humanize.IBytes(uint64(entry.SizeBytes)),
					humanize.Time(entry.LastAccessedAt),
					source,
				)
			}
			if err := tw.Flush(); err != nil {
				return fail("输出失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %s of %s (limit %d tracks)\n",
				summary.Count,
				humanize.IBytes(uint64(summary.TotalBytes)),
				humanize.IBytes(uint64(summary.Limits.MaxBytes)),
				summary.Limits.MaxCount,
			)
			return nil
		},
	}
}

func newClearCmd(opts *cliOptions) *cobra.Command {
	var withThumbs bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "立即清空远程音频缓存",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, true)
			if err != nil {
				return err
			}
			defer deps.close()

			result := deps.admin.ClearNow()
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d, skipped %d, failed %d, freed %s\n",
				result.Deleted, result.Skipped, result.Failed, humanize.IBytes(uint64(result.FreedBytes)))
			if withThumbs {
				thumbs := deps.admin.ClearThumbnails()
				fmt.Fprintf(cmd.OutOrStdout(), "thumbnails: deleted %d, freed %s\n",
					thumbs.Deleted, humanize.IBytes(uint64(thumbs.FreedBytes)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withThumbs, "thumbnails", false, "同时清空缩略图缓存")
	return cmd
}

func newDeleteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>...",
		Short: "删除指定的缓存文件（绝对路径）",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, true)
			if err != nil {
				return err
			}
			defer deps.close()

			result := deps.admin.DeleteSelected(args)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d selected files deleted (%d skipped, %d missing, %d failed), freed %s\n",
				len(result.Deleted), len(args), len(result.Skipped), len(result.Missing), len(result.Failed),
				humanize.IBytes(uint64(result.FreedBytes)))
			if len(result.Failed) > 0 {
				return fail("部分文件删除失败: %v", result.Failed)
			}
			return nil
		},
	}
}

func newPruneCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "按配置上限淘汰最久未访问的条目",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, true)
			if err != nil {
				return err
			}
			defer deps.close()

			result := deps.admin.Prune()
			thumbs := deps.admin.PruneThumbnails()
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d (%s), %d remaining (%s)\n",
				len(result.Deleted), humanize.IBytes(uint64(result.FreedBytes)),
				result.RemainingCount, humanize.IBytes(uint64(result.RemainingBytes)))
			fmt.Fprintf(cmd.OutOrStdout(), "thumbnails: evicted %d, %d remaining\n",
				len(thumbs.Deleted), thumbs.RemainingCount)
			if result.OverLimit {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: cache still over limit (protected or undeletable files)")
			}
			return nil
		},
	}
}

func newHygieneCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hygiene",
		Short: "执行一次启动清理（clear-on-launch、遗留 .part 文件、上限收敛）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath, true)
			if err != nil {
				return err
			}
			defer deps.close()

			report := deps.admin.RunLaunchHygiene(launchPolicy(deps.cfg))
			if report.Cleared != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", report.Cleared.Deleted)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d partial files, evicted %d entries\n",
				report.PartialsRemoved, len(report.Evicted.Deleted))
			return nil
		},
	}
}

func newCheckConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "仅校验配置后退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				var fieldErr config.FieldError
				if errors.As(err, &fieldErr) {
					return fail("配置校验失败: %s", fieldErr.Error())
				}
				return fail("加载配置失败: %w", err)
			}
			logger, err := logging.InitLogger(cfg.Global)
			if err != nil {
				return fail("初始化日志失败: %w", err)
			}

			fields := logging.BaseFields("check_config", opts.configPath)
			fields["remote_root"] = cfg.RemoteRoot()
			fields["max_tracks"] = cfg.RemoteCache.MaxTracks
			fields["max_bytes"] = cfg.RemoteCache.MaxBytes.String()
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}
