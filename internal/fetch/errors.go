package fetch

import "errors"

var (
	// ErrUpstreamUnavailable 表示所有镜像均失败或超时，调用方应映射为 502。
	ErrUpstreamUnavailable = errors.New("all upstream mirrors unavailable")
	// ErrNotFound 表示上游确认资源不存在（所有镜像返回 404），映射为 404。
	ErrNotFound = errors.New("artifact not found upstream")
)
