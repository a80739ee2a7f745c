package server

import (
	"net"
	"net/http"
	"time"

	"github.com/mirror-hub/mirror-hub/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有上游请求（下载与镜像探测）。
// 下载与探测各自通过 context 约束更短的超时，这里只设兜底上限。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 180 * time.Second
	if cfg != nil && cfg.Global.DownloadTimeout.DurationValue() > 0 {
		timeout = cfg.Global.DownloadTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
