package routes

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/trackcache/trackcache/internal/admin"
	"github.com/trackcache/trackcache/internal/cache"
)

type reserveRequest struct {
	Locator            string `json:"locator"`
	ContentDisposition string `json:"content_disposition"`
}

type reserveResponse struct {
	Reservation cache.Reservation `json:"reservation"`
	Existing    *cache.Entry      `json:"existing,omitempty"`
}

type commitRequest struct {
	Locator   string `json:"locator"`
	TempPath  string `json:"temp_path"`
	FinalPath string `json:"final_path"`
}

type deleteRequest struct {
	Paths []string `json:"paths"`
}

type playbackRequest struct {
	Path string `json:"path"`
}

// audioTypes 补充系统 mime 表里常缺失的音频类型。
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
}

func contentTypeFor(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return fiber.MIMEOctetStream
}

// RegisterCacheRoutes 暴露远程音频缓存的管理接口，以及播放引擎登记受保护文件的接口。
func RegisterCacheRoutes(app *fiber.App, svc *admin.Service) {
	if app == nil || svc == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(svc.Snapshot())
	})

	app.Get("/-/cache/lookup", func(c fiber.Ctx) error {
		locator := strings.TrimSpace(c.Query("locator"))
		if locator == "" {
			return badRequest(c, "locator_required")
		}
		entry, ok := svc.Lookup(locator)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_miss"})
		}
		return c.JSON(entry)
	})

	app.Get("/-/cache/stream", func(c fiber.Ctx) error {
		locator := strings.TrimSpace(c.Query("locator"))
		if locator == "" {
			return badRequest(c, "locator_required")
		}
		result, err := svc.Open(locator)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_miss"})
			}
			return err
		}
		c.Set(fiber.HeaderContentType, contentTypeFor(result.Entry.FileName))
		c.Set("X-Cache-Key", result.Entry.CacheKey)
		return c.SendStream(result.Reader, int(result.Entry.SizeBytes))
	})

	app.Post("/-/cache/reserve", func(c fiber.Ctx) error {
		var req reserveRequest
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		if strings.TrimSpace(req.Locator) == "" {
			return badRequest(c, "locator_required")
		}
		res, existing := svc.Reserve(req.Locator, req.ContentDisposition)
		return c.JSON(reserveResponse{Reservation: res, Existing: existing})
	})

	app.Post("/-/cache/commit", func(c fiber.Ctx) error {
		var req commitRequest
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		if strings.TrimSpace(req.Locator) == "" || req.TempPath == "" || req.FinalPath == "" {
			return badRequest(c, "locator_and_paths_required")
		}
		entry, ok := svc.Publish(req.Locator, req.TempPath, req.FinalPath)
		if !ok {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "commit_failed"})
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(svc.ClearNow())
	})

	app.Post("/-/cache/delete", func(c fiber.Ctx) error {
		var req deleteRequest
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		if len(req.Paths) == 0 {
			return badRequest(c, "paths_required")
		}
		return c.JSON(svc.DeleteSelected(req.Paths))
	})

	app.Post("/-/cache/prune", func(c fiber.Ctx) error {
		return c.JSON(svc.Prune())
	})

	app.Put("/-/playback", func(c fiber.Ctx) error {
		var req playbackRequest
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid_body")
		}
		svc.Playback().SetActive(req.Path)
		return c.JSON(fiber.Map{"active": svc.Playback().Active()})
	})

	app.Delete("/-/playback", func(c fiber.Ctx) error {
		svc.Playback().Clear()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func badRequest(c fiber.Ctx, label string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": label})
}
