package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner 抽象外部命令的执行，便于测试注入假实现。
type CommandRunner interface {
	Run(ctx context.Context, argv []string) error
}

// ExecRunner 通过 os/exec 真实执行命令。
type ExecRunner struct{}

// Run 执行 argv 并等待退出，非零退出码作为错误返回。
func (ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("命令 %s 执行失败: %w (输出: %s)", argv[0], err, output)
	}
	return nil
}
