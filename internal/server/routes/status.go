package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/trackcache/trackcache/internal/admin"
	"github.com/trackcache/trackcache/internal/version"
)

// ArchiveStatus 是压缩包挂载缓存的配置快照，本进程只负责上报。
type ArchiveStatus struct {
	Root          string `json:"root"`
	MaxMounts     int    `json:"max_mounts"`
	MaxBytes      int64  `json:"max_bytes"`
	MaxAgeSeconds int64  `json:"max_age_seconds"`
	ClearOnLaunch bool   `json:"clear_on_launch"`
}

type statusPayload struct {
	Version        string         `json:"version"`
	Remote         admin.Usage    `json:"remote"`
	Thumbnails     *admin.Usage   `json:"thumbnails,omitempty"`
	Archive        *ArchiveStatus `json:"archive,omitempty"`
	ActivePlayback string         `json:"active_playback,omitempty"`
	PendingDeletes int            `json:"pending_deletes"`
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口；archive 可为空。
func RegisterStatusRoutes(app *fiber.App, svc *admin.Service, archive *ArchiveStatus) {
	if app == nil || svc == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version:        version.Full(),
			Remote:         svc.RemoteUsage(),
			Archive:        archive,
			ActivePlayback: svc.Playback().Active(),
			PendingDeletes: svc.Store().PendingDeletes(),
		}
		if usage, ok := svc.ThumbnailUsage(); ok {
			payload.Thumbnails = &usage
		}
		return c.JSON(payload)
	})
}

// Register 挂载全部管理接口。
func Register(app *fiber.App, svc *admin.Service, archive *ArchiveStatus) {
	RegisterCacheRoutes(app, svc)
	RegisterThumbnailRoutes(app, svc, nil)
	RegisterStatusRoutes(app, svc, archive)
}
