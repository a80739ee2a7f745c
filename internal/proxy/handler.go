package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/fetch"
	"github.com/mirror-hub/mirror-hub/internal/logging"
	"github.com/mirror-hub/mirror-hub/internal/server"
)

// ArtifactSource 是取包引擎对代理层暴露的最小接口，便于测试注入假实现。
type ArtifactSource interface {
	Get(ctx context.Context, repo, path string) (*cache.ReadResult, fetch.Status, error)
}

// Handler 负责把 HTTP 请求翻译为引擎调用，并将结果流式返回：
// 错误在这里全部收敛为确定的 HTTP 状态码，客户端永远不会无限等待。
type Handler struct {
	source ArtifactSource
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler backed by the fetch engine.
func NewHandler(source ArtifactSource, logger *logrus.Logger) *Handler {
	return &Handler{
		source: source,
		logger: logger,
	}
}

// Handle 执行取包并输出响应，任何阶段出错都会记录结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.RepoRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	relPath := normalizeRequestPath(c.Params("*"))

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, status, err := h.source.Get(ctx, route.Config.Name, relPath)
	if err != nil {
		return h.renderError(c, route, relPath, requestID, started, err)
	}

	h.writeEntryHeaders(c, result.Entry, relPath, status, requestID)
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		result.Reader.Close()
		h.logResult(route, relPath, requestID, fiber.StatusOK, status, started, nil)
		return nil
	}

	_, copyErr := io.Copy(c.Response().BodyWriter(), result.Reader)
	result.Reader.Close()
	h.logResult(route, relPath, requestID, fiber.StatusOK, status, started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("stream artifact failed: %v", copyErr))
	}
	return nil
}

func (h *Handler) writeEntryHeaders(c fiber.Ctx, entry cache.Entry, relPath string, status fetch.Status, requestID string) {
	if contentType := inferContentType(relPath); contentType != "" {
		c.Set(fiber.HeaderContentType, contentType)
	} else {
		c.Response().Header.Del(fiber.HeaderContentType)
	}

	if entry.SizeBytes > 0 {
		c.Response().Header.SetContentLength(int(entry.SizeBytes))
	}

	// 索引文件禁止客户端缓存；制品一经发布内容不变，可长期缓存。
	if fetch.IsIndexPath(relPath) {
		c.Set(fiber.HeaderCacheControl, "no-store")
	} else {
		c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	}

	c.Set("X-Mirror-Hub-Cache", string(status))
	if entry.Meta.SHA256 != "" {
		c.Set("X-Mirror-Hub-SHA256", entry.Meta.SHA256)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (h *Handler) renderError(
	c fiber.Ctx,
	route *server.RepoRoute,
	relPath string,
	requestID string,
	started time.Time,
	err error,
) error {
	status := fiber.StatusBadGateway
	code := "upstream_failed"
	switch {
	case errors.Is(err, fetch.ErrNotFound):
		status = fiber.StatusNotFound
		code = "not_found"
	case errors.Is(err, fetch.ErrUpstreamUnavailable):
		status = fiber.StatusBadGateway
		code = "upstream_unavailable"
	}

	h.logResult(route, relPath, requestID, status, "", started, err)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.RepoRoute,
	relPath string,
	requestID string,
	status int,
	cacheStatus fetch.Status,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Config.Name, relPath, string(cacheStatus))
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func inferContentType(relPath string) string {
	clean := strings.ToLower(relPath)
	switch {
	case strings.HasSuffix(clean, ".xml"):
		return "application/xml"
	case strings.HasSuffix(clean, ".json"):
		return "application/json"
	case strings.HasSuffix(clean, ".txt"), strings.HasSuffix(clean, "/lastupdate"), strings.HasSuffix(clean, "/lastsync"):
		return "text/plain"
	case strings.HasSuffix(clean, ".gz"), strings.HasSuffix(clean, ".xz"),
		strings.HasSuffix(clean, ".zst"), strings.HasSuffix(clean, ".bz2"),
		strings.HasSuffix(clean, ".db"), strings.HasSuffix(clean, ".sig"),
		strings.HasSuffix(clean, ".files"), strings.HasSuffix(clean, ".deb"),
		strings.HasSuffix(clean, ".apk"), strings.HasSuffix(clean, ".rpm"):
		return "application/octet-stream"
	}
	return ""
}
