package maintenance

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirror-hub/mirror-hub/internal/config"
)

type fakeRunner struct {
	commands  [][]string
	updateErr error
	rebootErr error
}

func (f *fakeRunner) Run(_ context.Context, argv []string) error {
	f.commands = append(f.commands, argv)
	if len(argv) > 0 && argv[0] == "update" {
		return f.updateErr
	}
	if len(argv) > 0 && argv[0] == "reboot" {
		return f.rebootErr
	}
	return nil
}

type fakeSampler struct {
	samples []int64
	err     error
	calls   int
}

func (f *fakeSampler) Sample(context.Context) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.samples) {
		idx = len(f.samples) - 1
	}
	return f.samples[idx], nil
}

func testMaintenanceConfig() config.MaintenanceConfig {
	return config.MaintenanceConfig{
		UpdateCommand:     []string{"update"},
		RebootCommand:     []string{"reboot"},
		Interface:         "eth0",
		IdleThresholdBps:  10240,
		SampleWindow:      config.Duration(5 * time.Second),
		RetryBackoff:      config.Duration(10 * time.Minute),
		MaxIdleCheckRetry: 6,
	}
}

func newTestLoop(t *testing.T, runner *fakeRunner, sampler *fakeSampler) *Loop {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	loop := NewLoop(testMaintenanceConfig(), logger, runner, sampler)
	loop.sleep = func(context.Context, time.Duration) error { return nil }
	return loop
}

func TestRunOnceRebootsWhenIdle(t *testing.T) {
	runner := &fakeRunner{}
	sampler := &fakeSampler{samples: []int64{5000}}
	loop := newTestLoop(t, runner, sampler)

	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("维护循环失败: %v", err)
	}
	if outcome != OutcomeRebooted {
		t.Fatalf("低于阈值应触发重启, 得到 %v", outcome)
	}
	if len(runner.commands) != 2 || runner.commands[0][0] != "update" || runner.commands[1][0] != "reboot" {
		t.Fatalf("命令序列不符: %v", runner.commands)
	}
}

func TestRunOnceDefersWhenBusy(t *testing.T) {
	runner := &fakeRunner{}
	sampler := &fakeSampler{samples: []int64{50000}}
	loop := newTestLoop(t, runner, sampler)

	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("繁忙时放弃重启不应视为错误: %v", err)
	}
	if outcome != OutcomeDeferred {
		t.Fatalf("额度耗尽应推迟重启, 得到 %v", outcome)
	}
	if sampler.calls != 6 {
		t.Fatalf("应按 MaxIdleCheckRetry 采样 6 次, 实际 %d", sampler.calls)
	}
	// 不应执行重启命令
	for _, cmd := range runner.commands {
		if cmd[0] == "reboot" {
			t.Fatal("繁忙时不应触发重启")
		}
	}
}

func TestRunOnceRebootsOnLaterAttempt(t *testing.T) {
	runner := &fakeRunner{}
	sampler := &fakeSampler{samples: []int64{50000, 50000, 5000}}
	loop := newTestLoop(t, runner, sampler)

	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("维护循环失败: %v", err)
	}
	if outcome != OutcomeRebooted {
		t.Fatalf("第三次采样低于阈值应重启, 得到 %v", outcome)
	}
	if sampler.calls != 3 {
		t.Fatalf("应在第 3 次采样后停止, 实际 %d", sampler.calls)
	}
}

func TestRunOnceUpdateFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{updateErr: errors.New("pacman exited 1")}
	sampler := &fakeSampler{samples: []int64{0}}
	loop := newTestLoop(t, runner, sampler)

	if _, err := loop.RunOnce(context.Background()); err == nil {
		t.Fatal("自更新失败应返回错误")
	}
	if sampler.calls != 0 {
		t.Fatal("更新失败后不应进入空闲检查")
	}
}

func TestRunOnceRebootCommandFailureIsNotFatal(t *testing.T) {
	runner := &fakeRunner{rebootErr: errors.New("systemctl not found")}
	sampler := &fakeSampler{samples: []int64{0}}
	loop := newTestLoop(t, runner, sampler)

	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("重启命令失败只应记日志: %v", err)
	}
	if outcome != OutcomeRebooted {
		t.Fatalf("结果应为 rebooted, 得到 %v", outcome)
	}
}

func TestRunOnceSampleErrorConsumesRetry(t *testing.T) {
	runner := &fakeRunner{}
	sampler := &fakeSampler{err: errors.New("iface missing")}
	loop := newTestLoop(t, runner, sampler)

	outcome, err := loop.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("采样失败应按繁忙处理: %v", err)
	}
	if outcome != OutcomeDeferred {
		t.Fatalf("采样始终失败应推迟重启, 得到 %v", outcome)
	}
	if sampler.calls != 6 {
		t.Fatalf("采样失败也应消耗重试额度, 实际 %d 次", sampler.calls)
	}
}

func TestRunOnceRespectsContextCancellation(t *testing.T) {
	runner := &fakeRunner{}
	sampler := &fakeSampler{samples: []int64{50000}}
	loop := newTestLoop(t, runner, sampler)
	loop.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loop.RunOnce(ctx); err == nil {
		t.Fatal("上下文取消应中断循环")
	}
}
