package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trackcache/trackcache/internal/admin"
	"github.com/trackcache/trackcache/internal/logging"
)

// AppOptions controls how the admin Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Admin      *admin.Service
	ListenPort int
}

const contextKeyRequestID = "_trackcache_request_id"

// AdminPrefix is the path prefix shared by every admin route.
const AdminPrefix = "/-/"

// NewApp builds a Fiber application with request ID, access logging and
// panic recovery. Routes are attached by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Admin == nil {
		return nil, errors.New("admin service is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		var err error
		if IsAdminPath(string(c.Request().URI().Path())) {
			err = c.Next()
		} else {
			err = fiber.ErrNotFound
		}

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		fields := logging.RequestFields(reqID, c.Method(), string(c.Request().URI().Path()), status)
		fields["action"] = "admin_request"
		fields["elapsed_ms"] = time.Since(start).Milliseconds()
		logger.WithFields(fields).Debug("admin request handled")
		return err
	}
}

// errorHandler 将错误统一渲染为 {"error": "..."} JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		label := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			label = errorLabel(fe)
		}
		if code >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "admin_error",
				"request_id": RequestID(c),
				"path":       string(c.Request().URI().Path()),
			}).WithError(err).Error("admin request failed")
		}
		return c.Status(code).JSON(fiber.Map{"error": label})
	}
}

func errorLabel(fe *fiber.Error) string {
	switch fe.Code {
	case fiber.StatusNotFound:
		return "route_not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusBadRequest:
		return "bad_request"
	}
	return strings.ReplaceAll(strings.ToLower(fe.Message), " ", "_")
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// IsAdminPath reports whether path belongs to the admin surface.
func IsAdminPath(path string) bool {
	return strings.HasPrefix(path, AdminPrefix)
}
