package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/server"
)

// MirrorRanker 提供仓库当前的镜像优先级快照。
type MirrorRanker interface {
	Ordered(repo string) []string
}

// RegisterRepoRoutes 暴露 /-/repos 诊断接口，供 SRE 查询仓库、镜像排名与缓存占用。
func RegisterRepoRoutes(app *fiber.App, registry *server.RepoRegistry, ranker MirrorRanker, store cache.Store) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/repos", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return c.JSON(fiber.Map{
			"repos": encodeRepos(ctx, registry.List(), ranker, store),
		})
	})

	app.Get("/-/repos/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo_name_required"})
		}
		route, ok := registry.Lookup(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repo_unknown"})
		}
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return c.JSON(encodeRepo(ctx, *route, ranker, store))
	})
}

type repoPayload struct {
	Name           string   `json:"name"`
	Upstreams      []string `json:"upstreams"`
	MirrorlistPath string   `json:"mirrorlist_path,omitempty"`
	KeepVersions   int      `json:"keep_versions"`
	RankedMirrors  []string `json:"ranked_mirrors"`
	CachedEntries  int      `json:"cached_entries"`
	CachedBytes    int64    `json:"cached_bytes"`
}

func encodeRepos(ctx context.Context, routes []server.RepoRoute, ranker MirrorRanker, store cache.Store) []repoPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]repoPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, encodeRepo(ctx, route, ranker, store))
	}
	return result
}

func encodeRepo(ctx context.Context, route server.RepoRoute, ranker MirrorRanker, store cache.Store) repoPayload {
	payload := repoPayload{
		Name:           route.Config.Name,
		Upstreams:      append([]string(nil), route.Config.URLs...),
		MirrorlistPath: route.Config.Mirrorlist,
		KeepVersions:   route.KeepVersions,
	}
	if ranker != nil {
		payload.RankedMirrors = ranker.Ordered(route.Config.Name)
	}
	if store != nil {
		if entries, err := store.Walk(ctx, route.Config.Name); err == nil {
			payload.CachedEntries = len(entries)
			for _, entry := range entries {
				payload.CachedBytes += entry.SizeBytes
			}
		}
	}
	return payload
}
