package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/config"
	"github.com/mirror-hub/mirror-hub/internal/fetch"
	"github.com/mirror-hub/mirror-hub/internal/server"
)

type fakeSource struct {
	body   []byte
	status fetch.Status
	err    error

	lastRepo string
	lastPath string
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }

func (f *fakeSource) Get(_ context.Context, repo, path string) (*cache.ReadResult, fetch.Status, error) {
	f.lastRepo = repo
	f.lastPath = path
	if f.err != nil {
		return nil, "", f.err
	}
	return &cache.ReadResult{
		Entry: cache.Entry{
			Locator:   cache.Locator{RepoName: repo, Path: path},
			SizeBytes: int64(len(f.body)),
			Meta:      cache.Metadata{SHA256: "abc123", SizeBytes: int64(len(f.body))},
		},
		Reader: nopSeekCloser{bytes.NewReader(f.body)},
	}, f.status, nil
}

func newTestApp(t *testing.T, source *fakeSource) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := server.NewRepoRegistry(&config.Config{
		Global: config.GlobalConfig{KeepLastNVersions: 2},
		Repos: []config.RepoConfig{
			{Name: "archlinux", URLs: []string{"https://mirror.example/archlinux"}},
		},
	})
	if err != nil {
		t.Fatalf("构建仓库注册表失败: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      NewHandler(source, logger),
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	return app
}

func TestHandleServesArtifactBody(t *testing.T) {
	source := &fakeSource{body: []byte("package-bytes"), status: fetch.StatusHit}
	app := newTestApp(t, source)

	req := httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/zlib-1.3-1-x86_64.pkg.tar.zst", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "package-bytes" {
		t.Fatalf("响应体不符: %q", body)
	}
	if got := resp.Header.Get("X-Mirror-Hub-Cache"); got != string(fetch.StatusHit) {
		t.Fatalf("缓存状态头不符: %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Fatalf("制品应允许长期缓存, Cache-Control=%q", got)
	}
	if source.lastRepo != "archlinux" {
		t.Fatalf("传递的仓库名不符: %q", source.lastRepo)
	}
	if source.lastPath != "/core/os/x86_64/zlib-1.3-1-x86_64.pkg.tar.zst" {
		t.Fatalf("传递的路径不符: %q", source.lastPath)
	}
}

func TestHandleIndexPathDisablesClientCache(t *testing.T) {
	source := &fakeSource{body: []byte("db"), status: fetch.StatusFetched}
	app := newTestApp(t, source)

	req := httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/core.db", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("索引文件应禁用客户端缓存, Cache-Control=%q", got)
	}
}

func TestHandleHeadOmitsBody(t *testing.T) {
	source := &fakeSource{body: []byte("package-bytes"), status: fetch.StatusHit}
	app := newTestApp(t, source)

	req := httptest.NewRequest(http.MethodHead, "/repo/archlinux/core/os/x86_64/zlib-1.3-1-x86_64.pkg.tar.zst", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Fatalf("HEAD 响应不应携带响应体, 得到 %d 字节", len(body))
	}
}

func TestHandleMapsNotFound(t *testing.T) {
	source := &fakeSource{err: fetch.ErrNotFound}
	app := newTestApp(t, source)

	req := httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/missing.pkg.tar.zst", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("期望 404, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "not_found") {
		t.Fatalf("错误码不符: %s", body)
	}
}

func TestHandleMapsUpstreamUnavailable(t *testing.T) {
	source := &fakeSource{err: fetch.ErrUpstreamUnavailable}
	app := newTestApp(t, source)

	req := httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/zlib-1.3-1-x86_64.pkg.tar.zst", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("期望 502, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "upstream_unavailable") {
		t.Fatalf("错误码不符: %s", body)
	}
}

func TestNormalizeRequestPath(t *testing.T) {
	cases := map[string]string{
		"":                     "/",
		"core/os/core.db":      "/core/os/core.db",
		"a/../b":               "/b",
		"../../../etc/passwd":  "/etc/passwd",
		"core//os///pkg.db":    "/core/os/pkg.db",
		"./core/os/lastupdate": "/core/os/lastupdate",
	}
	for raw, want := range cases {
		if got := normalizeRequestPath(raw); got != want {
			t.Fatalf("normalizeRequestPath(%q) = %q, 期望 %q", raw, got, want)
		}
	}
}
