package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "180s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Repo 共享同一份参数。
type GlobalConfig struct {
	ListenPort        int      `mapstructure:"ListenPort"`
	LogLevel          string   `mapstructure:"LogLevel"`
	LogFilePath       string   `mapstructure:"LogFilePath"`
	LogMaxSize        int      `mapstructure:"LogMaxSize"`
	LogMaxBackups     int      `mapstructure:"LogMaxBackups"`
	LogCompress       bool     `mapstructure:"LogCompress"`
	StoragePath       string   `mapstructure:"StoragePath"`
	HtpasswdPath      string   `mapstructure:"HtpasswdPath"`
	DownloadTimeout   Duration `mapstructure:"DownloadTimeout"`
	ProbeTimeout      Duration `mapstructure:"ProbeTimeout"`
	PurgeFilesAfter   Duration `mapstructure:"PurgeFilesAfter"`
	KeepLastNVersions int      `mapstructure:"KeepLastNVersions"`
	RankInterval      Duration `mapstructure:"RankInterval"`
	EvictInterval     Duration `mapstructure:"EvictInterval"`
}

// PrefetchConfig 控制预取调度：Cron 为标准五段表达式，
// TTLUnaccessedInDays 决定包族多久未被访问后不再预取。
type PrefetchConfig struct {
	Cron                string `mapstructure:"Cron"`
	TTLUnaccessedInDays int    `mapstructure:"TTLUnaccessedInDays"`
}

// RepoConfig 声明一个镜像仓库：静态 URL 列表或 pacman 风格 mirrorlist 文件，
// 二者至少提供其一。KeepLastNVersions 可按仓库覆盖全局保留策略。
type RepoConfig struct {
	Name              string   `mapstructure:"Name"`
	URLs              []string `mapstructure:"URLs"`
	Mirrorlist        string   `mapstructure:"Mirrorlist"`
	KeepLastNVersions int      `mapstructure:"KeepLastNVersions"`
}

// MaintenanceConfig 配置空闲感知维护循环（自更新 + 按需重启）。
type MaintenanceConfig struct {
	UpdateCommand     []string `mapstructure:"UpdateCommand"`
	RebootCommand     []string `mapstructure:"RebootCommand"`
	Interface         string   `mapstructure:"Interface"`
	IdleThresholdBps  int64    `mapstructure:"IdleThresholdBps"`
	SampleWindow      Duration `mapstructure:"SampleWindow"`
	RetryBackoff      Duration `mapstructure:"RetryBackoff"`
	MaxIdleCheckRetry int      `mapstructure:"MaxIdleCheckRetry"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global      GlobalConfig      `mapstructure:",squash"`
	Prefetch    PrefetchConfig    `mapstructure:"Prefetch"`
	Maintenance MaintenanceConfig `mapstructure:"Maintenance"`
	Repos       []RepoConfig      `mapstructure:"Repo"`
}

// EffectiveKeepVersions 返回对特定 Repo 生效的版本保留数，未覆盖时回退全局值。
func (c *Config) EffectiveKeepVersions(r RepoConfig) int {
	if r.KeepLastNVersions > 0 {
		return r.KeepLastNVersions
	}
	return c.Global.KeepLastNVersions
}

// AuthEnabled 表示是否启用 Basic 鉴权（配置了 htpasswd 文件即启用）。
func (g GlobalConfig) AuthEnabled() bool {
	return strings.TrimSpace(g.HtpasswdPath) != ""
}

// AuthMode 输出 `htpasswd` 或 `anonymous`，供启动日志字段使用。
func (g GlobalConfig) AuthMode() string {
	if g.AuthEnabled() {
		return "htpasswd"
	}
	return "anonymous"
}
