package prefetch

import (
	"context"
	"path"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/cache"
	"github.com/mirror-hub/mirror-hub/internal/fetch"
	"github.com/mirror-hub/mirror-hub/internal/retention"
)

// Refresher 执行一次条件回源；由取包引擎实现，天然继承 singleflight 与镜像排名。
type Refresher interface {
	Refresh(ctx context.Context, repo, path string) error
}

// Scheduler 按 cron 表达式周期性预热缓存：对每个近期仍被访问的包族，
// 主动刷新其最新版本。单个包的失败只记日志并跳过，本轮不重试。
type Scheduler struct {
	store         cache.Store
	logger        *logrus.Logger
	refresher     Refresher
	repos         []string
	ttlUnaccessed time.Duration
	now           func() time.Time
}

// NewScheduler 构造预取调度器。ttlUnaccessed 通常来自
// Prefetch.TTLUnaccessedInDays 的天数换算。
func NewScheduler(store cache.Store, logger *logrus.Logger, refresher Refresher, repos []string, ttlUnaccessed time.Duration) *Scheduler {
	return &Scheduler{
		store:         store,
		logger:        logger,
		refresher:     refresher,
		repos:         repos,
		ttlUnaccessed: ttlUnaccessed,
		now:           time.Now,
	}
}

// Run 注册 cron 任务并阻塞到 ctx 取消。表达式已在配置校验阶段解析过，
// 这里再失败属于编程错误，直接返回。
func (s *Scheduler) Run(ctx context.Context, cronExpr string) error {
	c := cron.New()
	_, err := c.AddFunc(cronExpr, func() {
		s.WarmCycle(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// WarmCycle 执行一轮预热。
func (s *Scheduler) WarmCycle(ctx context.Context) {
	started := s.now()
	warmed, skipped := 0, 0
	for _, repo := range s.repos {
		if ctx.Err() != nil {
			return
		}
		w, sk := s.warmRepo(ctx, repo)
		warmed += w
		skipped += sk
	}
	s.logger.WithFields(logrus.Fields{
		"action":     "prefetch",
		"warmed":     warmed,
		"skipped":    skipped,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("prefetch_cycle_complete")
}

func (s *Scheduler) warmRepo(ctx context.Context, repo string) (warmed, skipped int) {
	entries, err := s.store.Walk(ctx, repo)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action": "prefetch",
			"repo":   repo,
		}).Warn("prefetch_walk_failed")
		return 0, 0
	}

	cutoff := s.now().UTC().Add(-s.ttlUnaccessed)
	for _, entry := range s.latestPerFamily(entries, cutoff) {
		if ctx.Err() != nil {
			return warmed, skipped
		}
		if err := s.refresher.Refresh(ctx, repo, entry.Locator.Path); err != nil {
			skipped++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "prefetch",
				"repo":   repo,
				"path":   entry.Locator.Path,
			}).Warn("prefetch_refresh_failed")
			continue
		}
		warmed++
	}
	return warmed, skipped
}

// latestPerFamily 过滤出近期被访问过的包族，并为每族挑选最新版本条目。
// 索引文件每次请求都会回源，预热它们没有意义。
func (s *Scheduler) latestPerFamily(entries []cache.Entry, cutoff time.Time) []cache.Entry {
	type familyState struct {
		latest       cache.Entry
		lastAccessed time.Time
	}
	families := make(map[string]*familyState)

	for _, entry := range entries {
		if fetch.IsIndexPath(entry.Locator.Path) {
			continue
		}
		parsed := retention.ParsePackageFile(entry.Locator.Path)
		key := path.Dir(entry.Locator.Path) + "::" + parsed.Family

		state, ok := families[key]
		if !ok {
			families[key] = &familyState{latest: entry, lastAccessed: entry.Meta.AccessedAt}
			continue
		}
		if entry.Meta.AccessedAt.After(state.lastAccessed) {
			state.lastAccessed = entry.Meta.AccessedAt
		}
		if newerThan(entry, state.latest) {
			state.latest = entry
		}
	}

	var result []cache.Entry
	for _, state := range families {
		if state.lastAccessed.Before(cutoff) {
			continue
		}
		result = append(result, state.latest)
	}
	return result
}

func newerThan(a, b cache.Entry) bool {
	va := retention.ParsePackageFile(a.Locator.Path).Version
	vb := retention.ParsePackageFile(b.Locator.Path).Version
	if va != "" && vb != "" {
		if cmp := retention.CompareVersions(va, vb); cmp != 0 {
			return cmp > 0
		}
	}
	return a.Meta.FetchedAt.After(b.Meta.FetchedAt)
}
