package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyPrefetchDefaults(&cfg.Prefetch)
	applyMaintenanceDefaults(&cfg.Maintenance)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 9129)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("DownloadTimeout", "180s")
	v.SetDefault("ProbeTimeout", "5s")
	v.SetDefault("PurgeFilesAfter", 0)
	v.SetDefault("KeepLastNVersions", 2)
	v.SetDefault("RankInterval", "1h")
	v.SetDefault("EvictInterval", "1h")
	v.SetDefault("Prefetch.Cron", "0 3 * * *")
	v.SetDefault("Prefetch.TTLUnaccessedInDays", 30)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 9129
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(180 * time.Second)
	}
	if g.ProbeTimeout.DurationValue() == 0 {
		g.ProbeTimeout = Duration(5 * time.Second)
	}
	if g.RankInterval.DurationValue() == 0 {
		g.RankInterval = Duration(time.Hour)
	}
	if g.EvictInterval.DurationValue() == 0 {
		g.EvictInterval = Duration(time.Hour)
	}
}

func applyPrefetchDefaults(p *PrefetchConfig) {
	if strings.TrimSpace(p.Cron) == "" {
		p.Cron = "0 3 * * *"
	}
	if p.TTLUnaccessedInDays == 0 {
		p.TTLUnaccessedInDays = 30
	}
}

func applyMaintenanceDefaults(m *MaintenanceConfig) {
	if len(m.UpdateCommand) == 0 {
		m.UpdateCommand = []string{"pacman", "-Syu", "--noconfirm"}
	}
	if len(m.RebootCommand) == 0 {
		m.RebootCommand = []string{"systemctl", "reboot"}
	}
	if m.Interface == "" {
		m.Interface = "eth0"
	}
	if m.IdleThresholdBps == 0 {
		m.IdleThresholdBps = 10240
	}
	if m.SampleWindow.DurationValue() == 0 {
		m.SampleWindow = Duration(5 * time.Second)
	}
	if m.RetryBackoff.DurationValue() == 0 {
		m.RetryBackoff = Duration(10 * time.Minute)
	}
	if m.MaxIdleCheckRetry == 0 {
		m.MaxIdleCheckRetry = 6
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
