package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runLoop 按固定间隔执行 fn，直到 ctx 取消或 stopCh 关闭
func runLoop(ctx context.Context, name string, interval time.Duration, stopCh <-chan struct{}, logger *zap.Logger, fn func(ctx context.Context)) {
	logger.Info("任务启动", zap.String("job", name), zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("收到停止信号，任务退出", zap.String("job", name))
			return
		case <-stopCh:
			logger.Info("任务停止", zap.String("job", name))
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
