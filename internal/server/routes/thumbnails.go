package routes

import (
	"context"
	"os"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/trackcache/trackcache/internal/admin"
	"github.com/trackcache/trackcache/internal/thumbnail"
)

// RegisterThumbnailRoutes 暴露缩略图获取与清理接口；未启用缩略图缓存时不注册。
// loader 为空时使用 thumbnail.ArtworkFor。
func RegisterThumbnailRoutes(app *fiber.App, svc *admin.Service, loader thumbnail.Loader) {
	if app == nil || svc == nil || svc.Thumbnails() == nil {
		return
	}
	if loader == nil {
		loader = thumbnail.ArtworkFor
	}

	app.Get("/-/thumbnails", func(c fiber.Ctx) error {
		src := strings.TrimSpace(c.Query("path"))
		if src == "" {
			return badRequest(c, "path_required")
		}
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		path, ok := svc.Thumbnails().Get(ctx, src, loader)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "thumbnail_unavailable"})
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "thumbnail_unavailable"})
		}
		c.Set(fiber.HeaderContentType, "image/jpeg")
		return c.Send(data)
	})

	app.Delete("/-/thumbnails", func(c fiber.Ctx) error {
		return c.JSON(svc.ClearThumbnails())
	})

	app.Post("/-/thumbnails/prune", func(c fiber.Ctx) error {
		return c.JSON(svc.PruneThumbnails())
	})
}
