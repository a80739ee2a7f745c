package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mirror-hub/mirror-hub/internal/cache"
)

// Status 标记一次 Get 的结果来源，供代理层写入响应头与日志。
type Status string

const (
	// StatusHit 表示直接由本地缓存服务。
	StatusHit Status = "hit"
	// StatusFetched 表示本次请求触发（或等到）了一次回源下载。
	StatusFetched Status = "fetched"
	// StatusStale 表示索引文件回源失败后降级使用了陈旧副本。
	StatusStale Status = "stale"
)

// Ranker 提供仓库当前的有序镜像列表；实现方保证调用永不阻塞。
type Ranker interface {
	Ordered(repo string) []string
}

// Engine 实现“缓存命中 → singleflight 回源 → 原子写缓存”的取包主流程。
// 同一 (repo, path) 任意时刻至多一个在途上游请求，所有等待者共享结果；
// 客户端中途断开不会取消其他等待者仍需要的下载（回源使用独立 context）。
type Engine struct {
	client          *http.Client
	logger          *logrus.Logger
	store           cache.Store
	ranker          Ranker
	downloadTimeout time.Duration
	group           singleflight.Group
	now             func() time.Time
}

// NewEngine 构造取包引擎，downloadTimeout 约束单次镜像下载。
func NewEngine(client *http.Client, logger *logrus.Logger, store cache.Store, ranker Ranker, downloadTimeout time.Duration) *Engine {
	return &Engine{
		client:          client,
		logger:          logger,
		store:           store,
		ranker:          ranker,
		downloadTimeout: downloadTimeout,
		now:             time.Now,
	}
}

// Get 返回 (repo, path) 对应的制品。索引文件永远先尝试回源，仅在全部
// 镜像失败时降级为陈旧缓存；普通制品命中即返回并刷新访问时间。
func (e *Engine) Get(ctx context.Context, repo, requestPath string) (*cache.ReadResult, Status, error) {
	locator := cache.Locator{RepoName: repo, Path: cleanPath(requestPath)}
	isIndex := IsIndexPath(locator.Path)

	if !isIndex {
		result, err := e.store.Get(ctx, locator)
		switch {
		case err == nil:
			if touchErr := e.store.Touch(ctx, locator, e.now().UTC()); touchErr != nil {
				e.logger.WithError(touchErr).WithFields(logrus.Fields{
					"action": "cache_touch",
					"repo":   repo,
					"path":   locator.Path,
				}).Warn("cache_touch_failed")
			}
			return result, StatusHit, nil
		case errors.Is(err, cache.ErrNotFound):
			// miss, fall through to upstream
		case errors.Is(err, cache.ErrCorrupted):
			e.logger.WithFields(logrus.Fields{
				"action": "cache_get",
				"repo":   repo,
				"path":   locator.Path,
			}).Warn("cache_entry_corrupted")
			if removeErr := e.store.Remove(ctx, locator); removeErr != nil {
				e.logger.WithError(removeErr).Warn("cache_corrupted_cleanup_failed")
			}
		default:
			e.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_get",
				"repo":   repo,
				"path":   locator.Path,
			}).Warn("cache_get_failed")
		}
	}

	if err := e.download(ctx, locator, time.Time{}); err != nil {
		if isIndex {
			if stale, staleErr := e.store.Get(ctx, locator); staleErr == nil {
				e.logger.WithFields(logrus.Fields{
					"action": "index_fallback",
					"repo":   repo,
					"path":   locator.Path,
				}).Warn("serving_stale_index")
				return stale, StatusStale, nil
			}
		}
		return nil, "", err
	}

	result, err := e.store.Get(ctx, locator)
	if err != nil {
		return nil, "", fmt.Errorf("read back cached artifact: %w", err)
	}
	return result, StatusFetched, nil
}

// Refresh 供预取调度器使用：带 If-Modified-Since 条件回源，上游未变化
// 时不产生写入，也不刷新访问时间。
func (e *Engine) Refresh(ctx context.Context, repo, requestPath string) error {
	locator := cache.Locator{RepoName: repo, Path: cleanPath(requestPath)}

	var since time.Time
	if existing, err := e.store.Get(ctx, locator); err == nil {
		since = existing.Entry.Meta.FetchedAt
		existing.Reader.Close()
	}

	return e.download(ctx, locator, since)
}

// download 通过 singleflight 保证同一 key 只有一个在途回源。
// 结果写入缓存后等待者各自重新打开 reader，避免共享单次读取流。
func (e *Engine) download(ctx context.Context, locator cache.Locator, since time.Time) error {
	key := locator.RepoName + "::" + locator.Path
	_, err, _ := e.group.Do(key, func() (any, error) {
		// 回源与客户端断连解耦：其他等待者（以及缓存本身）仍需要这份结果。
		return nil, e.fetchFromMirrors(context.WithoutCancel(ctx), locator, since)
	})
	return err
}

// fetchFromMirrors 依排名逐个尝试镜像：网络错误、超时与非 2xx 均降级到
// 下一个，全部 404 报 ErrNotFound，其余情况报 ErrUpstreamUnavailable。
func (e *Engine) fetchFromMirrors(ctx context.Context, locator cache.Locator, since time.Time) error {
	mirrors := e.ranker.Ordered(locator.RepoName)
	if len(mirrors) == 0 {
		return fmt.Errorf("%w: repo %s has no mirrors", ErrUpstreamUnavailable, locator.RepoName)
	}

	attempts := 0
	notFound := 0
	for _, mirrorURL := range mirrors {
		if ctx.Err() != nil {
			break
		}
		attempts++

		switch e.tryMirror(ctx, mirrorURL, locator, since) {
		case attemptDone:
			return nil
		case attemptNotFound:
			notFound++
		}
	}

	if attempts > 0 && notFound == attempts {
		return ErrNotFound
	}
	return ErrUpstreamUnavailable
}

type attemptResult int

const (
	attemptFailed attemptResult = iota
	attemptNotFound
	attemptDone
)

// tryMirror 针对单个镜像执行一次完整下载。下载超时按镜像计：
// 慢镜像耗尽的是自己的额度，后续镜像仍有完整的重试机会。
func (e *Engine) tryMirror(parent context.Context, mirrorURL string, locator cache.Locator, since time.Time) attemptResult {
	ctx, cancel := context.WithTimeout(parent, e.downloadTimeout)
	defer cancel()

	target := strings.TrimRight(mirrorURL, "/") + locator.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		e.logMirrorFailure(locator, target, 0, err)
		return attemptFailed
	}
	if !since.IsZero() {
		req.Header.Set("If-Modified-Since", since.UTC().Format(http.TimeFormat))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logMirrorFailure(locator, target, 0, err)
		return attemptFailed
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return attemptDone
	case resp.StatusCode == http.StatusNotFound:
		return attemptNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		e.logMirrorFailure(locator, target, resp.StatusCode, nil)
		return attemptFailed
	}

	fetchedAt := extractModTime(resp.Header, e.now().UTC())
	entry, err := e.store.Put(ctx, locator, resp.Body, cache.PutOptions{FetchedAt: fetchedAt})
	if err != nil {
		e.logMirrorFailure(locator, target, resp.StatusCode, err)
		return attemptFailed
	}

	e.logger.WithFields(logrus.Fields{
		"action": "upstream_fetch",
		"repo":   locator.RepoName,
		"path":   locator.Path,
		"mirror": mirrorURL,
		"bytes":  entry.SizeBytes,
	}).Info("upstream_fetch_complete")
	return attemptDone
}

func (e *Engine) logMirrorFailure(locator cache.Locator, target string, status int, err error) {
	fields := logrus.Fields{
		"action": "upstream_fetch",
		"repo":   locator.RepoName,
		"path":   locator.Path,
		"target": target,
	}
	if status != 0 {
		fields["upstream_status"] = status
	}
	entry := e.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("mirror_attempt_failed")
}

func extractModTime(header http.Header, fallback time.Time) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return fallback
}

func cleanPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}
