package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<RepoName>/<path>         # 实际正文
//	<StoragePath>/<RepoName>/<path>.meta    # 元数据 sidecar
//
// 正文与 sidecar 均通过临时文件 + rename 原子落盘，sidecar 先写、
// 正文后 rename，因此读取方以正文存在作为条目完整的判据：
// 写入窗口期的并发读得到 ErrNotFound，而不是假性 ErrCorrupted。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound；
	// 若正文存在但元数据缺失/损坏或大小不符，返回 ErrCorrupted。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将上游响应写入缓存并产出新的 Entry。写入过程中同步计算 SHA-256，
	// 失败时清理临时文件，不会留下可见的半成品。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Touch 更新条目的最近访问时间，用于驱动时效淘汰与预取筛选。
	Touch(ctx context.Context, locator Locator, accessedAt time.Time) error

	// Remove 删除正文与 sidecar，条目不存在时静默成功。
	Remove(ctx context.Context, locator Locator) error

	// Walk 枚举某个仓库下的全部条目（仅元数据，不打开正文），
	// 供淘汰与预取等后台任务遍历使用。
	Walk(ctx context.Context, repoName string) ([]Entry, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	FetchedAt time.Time
}

// Locator 唯一定位一个缓存条目（仓库 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	RepoName string
	Path     string
}

// Metadata 是 sidecar 文件的内容，描述正文的来源与生命周期。
type Metadata struct {
	SHA256     string    `json:"sha256"`
	SizeBytes  int64     `json:"size_bytes"`
	FetchedAt  time.Time `json:"fetched_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及元数据。
type Entry struct {
	Locator   Locator  `json:"locator"`
	FilePath  string   `json:"file_path"`
	SizeBytes int64    `json:"size_bytes"`
	Meta      Metadata `json:"meta"`
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupted 表示条目损坏（元数据缺失/不可解析或与正文不一致），
	// 调用方应视作 miss 并重新回源。
	ErrCorrupted = errors.New("cache entry corrupted")
)
