package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/config"
)

// Outcome 表示一轮维护周期的最终状态。
type Outcome string

const (
	// OutcomeRebooted 表示链路空闲，已触发重启命令。
	OutcomeRebooted Outcome = "rebooted"
	// OutcomeDeferred 表示重试额度内链路始终繁忙，本轮放弃重启。
	OutcomeDeferred Outcome = "deferred"
)

// Loop 实现空闲感知维护：先自更新，再按吞吐判定是否重启。
// 状态流转：Updating -> CheckingIdle -> {Rebooting | Deferred}。
type Loop struct {
	cfg     config.MaintenanceConfig
	logger  *logrus.Logger
	runner  CommandRunner
	sampler ThroughputSampler
	sleep   func(context.Context, time.Duration) error
}

// NewLoop 构建维护循环。runner/sampler 为 nil 时使用系统实现。
func NewLoop(cfg config.MaintenanceConfig, logger *logrus.Logger, runner CommandRunner, sampler ThroughputSampler) *Loop {
	if runner == nil {
		runner = ExecRunner{}
	}
	if sampler == nil {
		sampler = NewProcNetDevSampler(cfg.Interface, cfg.SampleWindow.DurationValue())
	}
	return &Loop{
		cfg:     cfg,
		logger:  logger,
		runner:  runner,
		sampler: sampler,
		sleep:   sleepContext,
	}
}

// RunOnce 执行一轮维护。返回错误仅代表自更新失败；
// 重启被推迟（链路繁忙）是正常结果，不是错误。
func (l *Loop) RunOnce(ctx context.Context) (Outcome, error) {
	started := time.Now()
	l.logger.WithFields(logrus.Fields{
		"action":  "maintenance",
		"command": l.cfg.UpdateCommand,
	}).Info("update_start")

	if err := l.runner.Run(ctx, l.cfg.UpdateCommand); err != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "maintenance",
			"error":  err.Error(),
		}).Error("update_failed")
		return "", fmt.Errorf("自更新失败: %w", err)
	}

	attempts := l.cfg.MaxIdleCheckRetry
	if attempts <= 0 {
		attempts = 1
	}
	backoff := l.cfg.RetryBackoff.DurationValue()

	for attempt := 1; attempt <= attempts; attempt++ {
		throughput, err := l.sampler.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// 采样失败按繁忙处理，消耗一次重试额度
			l.logger.WithFields(logrus.Fields{
				"action":  "maintenance",
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("idle_sample_failed")
		} else {
			l.logger.WithFields(logrus.Fields{
				"action":         "maintenance",
				"attempt":        attempt,
				"throughput_bps": throughput,
				"threshold_bps":  l.cfg.IdleThresholdBps,
			}).Info("idle_check")

			if throughput < l.cfg.IdleThresholdBps {
				return l.reboot(ctx, started)
			}
		}

		if attempt < attempts {
			if err := l.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}

	// 重试额度耗尽仍繁忙：放弃重启，本轮更新已完成，属正常退出
	l.logger.WithFields(logrus.Fields{
		"action":     "maintenance",
		"attempts":   attempts,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("update_completed_without_reboot")
	return OutcomeDeferred, nil
}

// reboot 触发重启命令。重启是 fire-and-forget，命令失败只记日志。
func (l *Loop) reboot(ctx context.Context, started time.Time) (Outcome, error) {
	l.logger.WithFields(logrus.Fields{
		"action":     "maintenance",
		"command":    l.cfg.RebootCommand,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("reboot_triggered")

	if err := l.runner.Run(ctx, l.cfg.RebootCommand); err != nil {
		l.logger.WithFields(logrus.Fields{
			"action": "maintenance",
			"error":  err.Error(),
		}).Error("reboot_command_failed")
	}
	return OutcomeRebooted, nil
}
