package maintenance

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ThroughputSampler 返回网卡当前吞吐（收发合计，字节/秒）。
type ThroughputSampler interface {
	Sample(ctx context.Context) (int64, error)
}

// ProcNetDevSampler 读取 /proc/net/dev 的字节计数器两次（间隔 window），
// 用差值估算吞吐。
type ProcNetDevSampler struct {
	// StatsPath 默认 /proc/net/dev，测试可指向临时文件。
	StatsPath string
	Interface string
	Window    time.Duration
	// sleep 可注入以避免测试真实等待。
	sleep func(context.Context, time.Duration) error
}

// NewProcNetDevSampler 构建针对指定网卡的采样器。
func NewProcNetDevSampler(iface string, window time.Duration) *ProcNetDevSampler {
	return &ProcNetDevSampler{
		StatsPath: "/proc/net/dev",
		Interface: iface,
		Window:    window,
		sleep:     sleepContext,
	}
}

// Sample 采样两次字节计数器并换算为字节/秒。
func (s *ProcNetDevSampler) Sample(ctx context.Context) (int64, error) {
	first, err := s.readCounters()
	if err != nil {
		return 0, err
	}

	sleep := s.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if err := sleep(ctx, s.Window); err != nil {
		return 0, err
	}

	second, err := s.readCounters()
	if err != nil {
		return 0, err
	}

	delta := second - first
	if delta < 0 {
		// 计数器回绕或网卡重置，按零吞吐处理
		delta = 0
	}
	seconds := s.Window.Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	return int64(float64(delta) / seconds), nil
}

// readCounters 返回该网卡 rx+tx 字节计数器之和。
func (s *ProcNetDevSampler) readCounters() (int64, error) {
	f, err := os.Open(s.StatsPath)
	if err != nil {
		return 0, fmt.Errorf("打开网卡统计失败: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		name, rest, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(name) != s.Interface {
			continue
		}
		// /proc/net/dev 字段：rx bytes 是第 1 列，tx bytes 是第 9 列
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			return 0, fmt.Errorf("网卡 %s 统计字段不足: %q", s.Interface, line)
		}
		rx, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("解析 rx 字节失败: %w", err)
		}
		tx, err := strconv.ParseInt(fields[8], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("解析 tx 字节失败: %w", err)
		}
		return rx + tx, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("读取网卡统计失败: %w", err)
	}
	return 0, fmt.Errorf("未找到网卡 %s", s.Interface)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
