package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/config"
)

func newTestRegistry(t *testing.T) *RepoRegistry {
	t.Helper()
	registry, err := NewRepoRegistry(&config.Config{
		Global: config.GlobalConfig{KeepLastNVersions: 2},
		Repos: []config.RepoConfig{
			{Name: "archlinux", URLs: []string{"https://mirror.example/archlinux"}},
		},
	})
	if err != nil {
		t.Fatalf("构建仓库注册表失败: %v", err)
	}
	return registry
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func okProxy() ProxyHandler {
	return ProxyHandlerFunc(func(c fiber.Ctx, route *RepoRoute) error {
		return c.SendString("served:" + route.Config.Name)
	})
}

func TestNewAppRequiresOptions(t *testing.T) {
	registry := newTestRegistry(t)
	logger := discardLogger()

	cases := []AppOptions{
		{Registry: registry, Proxy: okProxy(), ListenPort: 9129},
		{Logger: logger, Proxy: okProxy(), ListenPort: 9129},
		{Logger: logger, Registry: registry, ListenPort: 9129},
		{Logger: logger, Registry: registry, Proxy: okProxy(), ListenPort: 0},
		{Logger: logger, Registry: registry, Proxy: okProxy(), ListenPort: -80},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("用例 %d 应返回错误", i)
		}
	}
}

func TestRepoRouteDispatch(t *testing.T) {
	app, err := NewApp(AppOptions{
		Logger:     discardLogger(),
		Registry:   newTestRegistry(t),
		Proxy:      okProxy(),
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/core.db", nil))
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "served:archlinux" {
		t.Fatalf("代理未被调用: %q", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("响应应携带 X-Request-ID")
	}
}

func TestUnknownRepoReturns404(t *testing.T) {
	app, err := NewApp(AppOptions{
		Logger:     discardLogger(),
		Registry:   newTestRegistry(t),
		Proxy:      okProxy(),
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/repo/debian/pool/main/z/zlib.deb", nil))
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("期望 404, 得到 %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "repo_unknown") {
		t.Fatalf("错误码不符: %s", body)
	}
}

func TestAuthMiddlewareRejectsWithoutCredentials(t *testing.T) {
	path := writeHtpasswd(t, "alice:"+bcryptHash(t, "secret")+"\n")
	auth, err := LoadHtpasswd(path)
	if err != nil {
		t.Fatalf("加载 htpasswd 失败: %v", err)
	}

	app, err := NewApp(AppOptions{
		Logger:     discardLogger(),
		Registry:   newTestRegistry(t),
		Proxy:      okProxy(),
		Auth:       auth,
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/core.db", nil))
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("期望 401, 得到 %d", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Fatalf("缺少 WWW-Authenticate 头: %q", got)
	}
	// 响应体不应区分用户名错误还是密码错误
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "unauthorized") {
		t.Fatalf("错误响应不符: %s", body)
	}
}

func TestAuthMiddlewareAcceptsValidCredentials(t *testing.T) {
	path := writeHtpasswd(t, "alice:"+bcryptHash(t, "secret")+"\n")
	auth, err := LoadHtpasswd(path)
	if err != nil {
		t.Fatalf("加载 htpasswd 失败: %v", err)
	}

	app, err := NewApp(AppOptions{
		Logger:     discardLogger(),
		Registry:   newTestRegistry(t),
		Proxy:      okProxy(),
		Auth:       auth,
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/repo/archlinux/core/os/x86_64/core.db", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("期望 200, 得到 %d", resp.StatusCode)
	}
}

func TestAuthMiddlewareExemptsDiagnostics(t *testing.T) {
	path := writeHtpasswd(t, "alice:"+bcryptHash(t, "secret")+"\n")
	auth, err := LoadHtpasswd(path)
	if err != nil {
		t.Fatalf("加载 htpasswd 失败: %v", err)
	}

	app, err := NewApp(AppOptions{
		Logger:     discardLogger(),
		Registry:   newTestRegistry(t),
		Proxy:      okProxy(),
		Auth:       auth,
		ListenPort: 9129,
	})
	if err != nil {
		t.Fatalf("构建应用失败: %v", err)
	}
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/ping", nil))
	if err != nil {
		t.Fatalf("请求执行失败: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("诊断路径应豁免认证, 得到 %d", resp.StatusCode)
	}
}
