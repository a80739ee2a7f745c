package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mirror-hub/mirror-hub/internal/config"
)

// RepoRoute 将 Repo 配置与派生属性（生效的版本保留数等）聚合在一起，
// 供路由/代理层直接复用，避免重复解析配置。
type RepoRoute struct {
	// Config 是用户在 config.toml 中声明的 Repo 字段副本，避免外部修改。
	Config config.RepoConfig
	// KeepVersions 是对当前 Repo 生效的保留数，未覆盖时等于全局值。
	KeepVersions int
}

// RepoRegistry 提供仓库名到 RepoRoute 的查询能力。
type RepoRegistry struct {
	routes  map[string]*RepoRoute
	ordered []*RepoRoute
}

// NewRepoRegistry 根据配置构建仓库映射。调用方应在启动阶段创建一次并复用。
func NewRepoRegistry(cfg *config.Config) (*RepoRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &RepoRegistry{
		routes: make(map[string]*RepoRoute, len(cfg.Repos)),
	}

	for _, repo := range cfg.Repos {
		name := strings.TrimSpace(repo.Name)
		if name == "" {
			return nil, errors.New("repo name required")
		}
		if _, exists := registry.routes[name]; exists {
			return nil, fmt.Errorf("duplicate repo mapping detected for %s", name)
		}

		route := &RepoRoute{
			Config:       repo,
			KeepVersions: cfg.EffectiveKeepVersions(repo),
		}
		registry.routes[name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据仓库名查找 RepoRoute。
func (r *RepoRegistry) Lookup(name string) (*RepoRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.routes[strings.TrimSpace(name)]
	return route, ok
}

// List 返回当前注册的 RepoRoute 列表（按配置定义的顺序），用于诊断输出。
func (r *RepoRegistry) List() []RepoRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]RepoRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}
