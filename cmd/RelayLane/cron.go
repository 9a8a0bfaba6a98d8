package main

import (
	"context"
	"fmt"
	"time"

	"RelayLane/internal/biz"
	"RelayLane/internal/conf"
	"RelayLane/internal/server"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultSweepInterval = 10 * time.Minute
	// redisHealthSpec re-probes Redis for the grpc health service
	redisHealthSpec = "@every 30s"
)

// StartMaintenanceCron 启动后台维护任务
// 1. 分析结果清理：按 orchestrator.sweep_interval 删除超过 retention 的已结束分析
// 2. Redis 健康检查：每 30 秒刷新 grpc health 中的 relaylane.redis 状态
func StartMaintenanceCron(o *biz.Orchestrator, reporter *server.HealthReporter, c *conf.Resilience, logger log.Logger) (*cron.Cron, error) {
	helper := log.NewHelper(logger)

	interval := defaultSweepInterval
	if c != nil && c.Orchestrator != nil {
		if d := c.Orchestrator.SweepInterval.AsDuration(); d > 0 {
			interval = d
		}
	}

	cr := cron.New(cron.WithSeconds())

	sweepSpec := fmt.Sprintf("@every %s", interval)
	if _, err := cr.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := o.Sweep(ctx); err != nil {
			helper.Errorw("msg", "analysis sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	if reporter != nil {
		if _, err := cr.AddFunc(redisHealthSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			reporter.CheckRedis(ctx)
		}); err != nil {
			return nil, fmt.Errorf("register redis health job: %w", err)
		}
	}

	cr.Start()
	helper.Infow("msg", "maintenance cron started", "sweep", sweepSpec, "redis_health", redisHealthSpec)

	return cr, nil
}
