package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 配置错误只在启动阶段致命，请求阶段不会再出现 ConfigError。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProbeTimeout", "必须大于 0")
	}
	if g.PurgeFilesAfter.DurationValue() < 0 {
		return newFieldError("Global.PurgeFilesAfter", "不能为负数")
	}
	if g.KeepLastNVersions < 0 {
		return newFieldError("Global.KeepLastNVersions", "不能为负数")
	}
	if g.RankInterval.DurationValue() <= 0 {
		return newFieldError("Global.RankInterval", "必须大于 0")
	}
	if g.EvictInterval.DurationValue() <= 0 {
		return newFieldError("Global.EvictInterval", "必须大于 0")
	}

	if c.Prefetch.TTLUnaccessedInDays < 0 {
		return newFieldError("Prefetch.TTLUnaccessedInDays", "不能为负数")
	}
	if _, err := cron.ParseStandard(c.Prefetch.Cron); err != nil {
		return newFieldError("Prefetch.Cron", fmt.Sprintf("无法解析表达式: %v", err))
	}

	m := c.Maintenance
	if m.IdleThresholdBps < 0 {
		return newFieldError("Maintenance.IdleThresholdBps", "不能为负数")
	}
	if m.SampleWindow.DurationValue() <= 0 {
		return newFieldError("Maintenance.SampleWindow", "必须大于 0")
	}
	if m.MaxIdleCheckRetry < 0 {
		return newFieldError("Maintenance.MaxIdleCheckRetry", "不能为负数")
	}

	if len(c.Repos) == 0 {
		return errors.New("至少需要配置一个 Repo")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Repos {
		repo := &c.Repos[i]
		if repo.Name == "" {
			return newFieldError("Repo[].Name", "不能为空")
		}
		if err := validateRepoName(repo.Name); err != nil {
			return fmt.Errorf("%s: %w", repoField(repo.Name, "Name"), err)
		}
		if _, exists := seenNames[repo.Name]; exists {
			return newFieldError(repoField(repo.Name, "Name"), "重复")
		}
		seenNames[repo.Name] = struct{}{}

		if len(repo.URLs) == 0 && strings.TrimSpace(repo.Mirrorlist) == "" {
			return newFieldError(repoField(repo.Name, "URLs"), "URLs 与 Mirrorlist 至少提供其一")
		}
		for _, raw := range repo.URLs {
			if err := validateUpstream(raw); err != nil {
				return fmt.Errorf("%s: %w", repoField(repo.Name, "URLs"), err)
			}
		}
		if repo.KeepLastNVersions < 0 {
			return newFieldError(repoField(repo.Name, "KeepLastNVersions"), "不能为负数")
		}
	}

	return nil
}

// validateRepoName 限制仓库名字符集，仓库名会作为磁盘目录与 URL 片段使用。
func validateRepoName(name string) error {
	if strings.ContainsAny(name, "/\\ ") {
		return errors.New("不允许包含斜杠或空格")
	}
	if name == "." || name == ".." {
		return errors.New("非法仓库名")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
