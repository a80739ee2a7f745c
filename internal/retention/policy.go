package retention

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/fetch"
)

// RepoRule 是单个仓库的保留规则。KeepVersions 为 0 表示不做版本数淘汰。
type RepoRule struct {
	Name         string
	KeepVersions int
}

// Policy 周期性遍历缓存执行两类淘汰：
//
//  1. 每个包族仅保留最新 KeepVersions 个版本；
//  2. 最近访问时间早于 PurgeAfter 的条目无条件清除（0 表示关闭）。
//
// 删除经由 Store 的键级锁执行，绝不影响其它条目的读写。
// 后台任务的任何 I/O 错误只记日志，不会让进程退出。
type Policy struct {
	store      cache.Store
	logger     *logrus.Logger
	rules      []RepoRule
	purgeAfter time.Duration
	now        func() time.Time
}

// NewPolicy 构造淘汰策略。
func NewPolicy(store cache.Store, logger *logrus.Logger, rules []RepoRule, purgeAfter time.Duration) *Policy {
	return &Policy{
		store:      store,
		logger:     logger,
		rules:      rules,
		purgeAfter: purgeAfter,
		now:        time.Now,
	}
}

// Run 启动周期性淘汰循环，直到 ctx 取消。
func (p *Policy) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep 对所有仓库执行一轮淘汰。
func (p *Policy) Sweep(ctx context.Context) {
	for _, rule := range p.rules {
		if ctx.Err() != nil {
			return
		}
		p.sweepRepo(ctx, rule)
	}
}

func (p *Policy) sweepRepo(ctx context.Context, rule RepoRule) {
	entries, err := p.store.Walk(ctx, rule.Name)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action": "evict",
			"repo":   rule.Name,
		}).Warn("evict_walk_failed")
		return
	}

	evicted := 0
	evicted += p.purgeUnaccessed(ctx, entries)
	evicted += p.enforceVersionWindow(ctx, entries, rule.KeepVersions)

	if evicted > 0 {
		p.logger.WithFields(logrus.Fields{
			"action":  "evict",
			"repo":    rule.Name,
			"evicted": evicted,
		}).Info("evict_complete")
	}
}

// purgeUnaccessed 删除超过 purgeAfter 未被访问的条目，与版本窗口无关。
func (p *Policy) purgeUnaccessed(ctx context.Context, entries []cache.Entry) int {
	if p.purgeAfter <= 0 {
		return 0
	}
	cutoff := p.now().UTC().Add(-p.purgeAfter)
	removed := 0
	for _, entry := range entries {
		if entry.Meta.AccessedAt.After(cutoff) {
			continue
		}
		if p.remove(ctx, entry, "unaccessed") {
			removed++
		}
	}
	return removed
}

// enforceVersionWindow 按包族保留最新 keep 个版本，其余淘汰。
// 索引文件每次请求都会回源刷新，不参与版本窗口。
func (p *Policy) enforceVersionWindow(ctx context.Context, entries []cache.Entry, keep int) int {
	if keep <= 0 {
		return 0
	}

	families := make(map[string][]cache.Entry)
	for _, entry := range entries {
		if fetch.IsIndexPath(entry.Locator.Path) {
			continue
		}
		parsed := ParsePackageFile(entry.Locator.Path)
		key := path.Dir(entry.Locator.Path) + "::" + parsed.Family
		families[key] = append(families[key], entry)
	}

	removed := 0
	for _, group := range families {
		if len(group) <= keep {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			vi := ParsePackageFile(group[i].Locator.Path).Version
			vj := ParsePackageFile(group[j].Locator.Path).Version
			if vi != "" && vj != "" {
				if cmp := CompareVersions(vi, vj); cmp != 0 {
					return cmp > 0
				}
			}
			// 版本相同或不可解析：后抓取的视为更新（上游重发同版本时保留最新一份）。
			return group[i].Meta.FetchedAt.After(group[j].Meta.FetchedAt)
		})
		for _, entry := range group[keep:] {
			if p.remove(ctx, entry, "version_window") {
				removed++
			}
		}
	}
	return removed
}

func (p *Policy) remove(ctx context.Context, entry cache.Entry, reason string) bool {
	if err := p.store.Remove(ctx, entry.Locator); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"action": "evict",
			"repo":   entry.Locator.RepoName,
			"path":   entry.Locator.Path,
			"reason": reason,
		}).Warn("evict_remove_failed")
		return false
	}
	p.logger.WithFields(logrus.Fields{
		"action": "evict",
		"repo":   entry.Locator.RepoName,
		"path":   entry.Locator.Path,
		"reason": reason,
	}).Debug("evict_entry")
	return true
}
