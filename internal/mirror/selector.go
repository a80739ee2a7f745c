package mirror

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Source 描述一个仓库的候选上游来源：静态 URL 与可选的 mirrorlist 文件。
// mirrorlist 每轮排序前重新读取，镜像站增删无需重启进程。
type Source struct {
	Name           string
	URLs           []string
	MirrorlistPath string
}

// Selector 周期性探测候选镜像并维护每个仓库的有序列表。
// 排序在后台进行，读路径（Ordered）永不阻塞；陈旧排名是可接受的。
type Selector struct {
	client       *http.Client
	logger       *logrus.Logger
	sources      []Source
	probeTimeout time.Duration

	mu       sync.RWMutex
	rankings map[string][]string
}

// probeSampleBytes 限定探测请求读取的正文上限，足够估算吞吐又不拖慢循环。
const probeSampleBytes = 16 * 1024

// comparableLatency 以内的延迟差视为同级，改用吞吐量决定先后。
const comparableLatency = 25 * time.Millisecond

// NewSelector 构造 Selector，client 供探测复用，probeTimeout 约束单次探测。
func NewSelector(client *http.Client, logger *logrus.Logger, sources []Source, probeTimeout time.Duration) *Selector {
	return &Selector{
		client:       client,
		logger:       logger,
		sources:      sources,
		probeTimeout: probeTimeout,
		rankings:     make(map[string][]string),
	}
}

// Ordered 返回仓库当前的有序镜像列表；尚未完成首轮探测时退回配置顺序。
func (s *Selector) Ordered(repo string) []string {
	s.mu.RLock()
	ranked, ok := s.rankings[repo]
	s.mu.RUnlock()
	if ok && len(ranked) > 0 {
		result := make([]string, len(ranked))
		copy(result, ranked)
		return result
	}
	return s.candidates(repo)
}

// Run 启动周期性排序循环，直到 ctx 取消。启动时先同步执行一轮，
// 保证服务上线后尽快拿到真实排名。
func (s *Selector) Run(ctx context.Context, interval time.Duration) {
	s.RankAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RankAll(ctx)
		}
	}
}

// RankAll 对所有仓库执行一轮探测排序。单个镜像失败只会被降级，
// 下一轮探测恢复后自动回到正常位置。
func (s *Selector) RankAll(ctx context.Context) {
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return
		}
		ranked := s.rank(ctx, src)
		if len(ranked) == 0 {
			continue
		}
		s.mu.Lock()
		s.rankings[src.Name] = ranked
		s.mu.Unlock()
	}
}

type probeResult struct {
	url        string
	latency    time.Duration
	throughput float64
	ok         bool
	order      int
}

func (s *Selector) rank(ctx context.Context, src Source) []string {
	candidates := s.candidates(src.Name)
	if len(candidates) == 0 {
		return nil
	}

	results := make([]probeResult, 0, len(candidates))
	for i, candidate := range candidates {
		result := s.probe(ctx, candidate)
		result.order = i
		results = append(results, result)
		if !result.ok {
			s.logger.WithFields(logrus.Fields{
				"action": "mirror_probe",
				"repo":   src.Name,
				"mirror": candidate,
			}).Warn("mirror_probe_failed")
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.ok != b.ok {
			return a.ok
		}
		if !a.ok {
			return a.order < b.order
		}
		delta := a.latency - b.latency
		if delta < 0 {
			delta = -delta
		}
		if delta <= comparableLatency {
			if a.throughput != b.throughput {
				return a.throughput > b.throughput
			}
		}
		return a.latency < b.latency
	})

	ranked := make([]string, len(results))
	for i, result := range results {
		ranked[i] = result.url
	}

	s.logger.WithFields(logrus.Fields{
		"action": "mirror_rank",
		"repo":   src.Name,
		"ranked": ranked,
	}).Debug("mirror_rank_complete")
	return ranked
}

// probe 对单个镜像执行一次限量 GET：延迟取首包耗时，吞吐按读取字节估算。
// 超时或非 2xx 只代表本轮失败，不会将镜像永久移除。
func (s *Selector) probe(ctx context.Context, rawURL string) probeResult {
	result := probeResult{url: rawURL}

	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rawURL+"/", http.NoBody)
	if err != nil {
		return result
	}
	req.Header.Set("Range", "bytes=0-16383")

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return result
	}
	defer resp.Body.Close()
	result.latency = time.Since(started)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return result
	}

	read, _ := io.Copy(io.Discard, io.LimitReader(resp.Body, probeSampleBytes))
	elapsed := time.Since(started)
	if elapsed > 0 {
		result.throughput = float64(read) / elapsed.Seconds()
	}
	result.ok = true
	return result
}

// candidates 合并静态 URL 与 mirrorlist 条目并去重，保持声明顺序。
func (s *Selector) candidates(repo string) []string {
	var src *Source
	for i := range s.sources {
		if s.sources[i].Name == repo {
			src = &s.sources[i]
			break
		}
	}
	if src == nil {
		return nil
	}

	merged := make([]string, 0, len(src.URLs))
	seen := make(map[string]struct{})
	appendURL := func(raw string) {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			return
		}
		if _, dup := seen[raw]; dup {
			return
		}
		seen[raw] = struct{}{}
		merged = append(merged, raw)
	}

	for _, raw := range src.URLs {
		appendURL(raw)
	}
	if src.MirrorlistPath != "" {
		urls, err := LoadMirrorlist(src.MirrorlistPath)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "mirrorlist_load",
				"repo":   repo,
				"path":   src.MirrorlistPath,
			}).Warn("mirrorlist_load_failed")
		}
		for _, raw := range urls {
			appendURL(raw)
		}
	}
	return merged
}
