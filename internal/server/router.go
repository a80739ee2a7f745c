package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component responsible for serving repo requests
// (cache or upstream). It allows injecting fake handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *RepoRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *RepoRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *RepoRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *RepoRegistry
	Proxy      ProxyHandler
	Auth       *Authenticator
	ListenPort int
}

const contextKeyRequestID = "_mirrorhub_request_id"

// NewApp builds a Fiber application with auth/request-ID middleware and
// the /repo/{name}/{...path} proxy route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("repo registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	app.Use(authMiddleware(opts.Auth, opts.Logger))

	handler := repoHandler(opts)
	app.Get("/repo/:repo/*", handler)
	app.Head("/repo/:repo/*", handler)

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// authMiddleware 校验 Basic 凭证。诊断路径豁免；失败统一返回 401，
// 响应体不区分用户名错误与密码错误。
func authMiddleware(auth *Authenticator, logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		if auth == nil {
			return c.Next()
		}
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		username, password, ok := parseBasicAuth(c.Get(fiber.HeaderAuthorization))
		if !ok || !auth.Authenticate(username, password) {
			logger.WithFields(logrus.Fields{
				"action": "auth",
				"path":   string(c.Request().URI().Path()),
			}).Warn("auth_rejected")
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="mirror-hub"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		return c.Next()
	}
}

func repoHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("repo"))
		route, ok := opts.Registry.Lookup(name)
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action": "repo_lookup",
				"repo":   name,
			}).Warn("repo unmapped")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "repo_unknown",
			})
		}
		return opts.Proxy.Handle(c, route)
	}
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

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
