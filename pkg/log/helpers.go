package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// slowRequestThresholdMs 慢请求阈值（毫秒），上游生成耗时通常在数秒级
const slowRequestThresholdMs = 30000

// LogHelper 扩展 Kratos log.Helper
// 每个方法都会附加 "type" 字段，驱动 EmojiConsoleEncoder 的表情符号映射
type LogHelper struct {
	*log.Helper
}

// NewLogHelper 创建增强的日志辅助器
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func (h *LogHelper) typed(level log.Level, logType, msg string, kvs []interface{}) {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	allKvs = append(allKvs, "type", logType)
	switch level {
	case log.LevelDebug:
		h.Debugw(allKvs...)
	case log.LevelWarn:
		h.Warnw(allKvs...)
	case log.LevelError:
		h.Errorw(allKvs...)
	default:
		h.Infow(allKvs...)
	}
}

// Dispatch 记录 fallback 链路日志（🔀）
func (h *LogHelper) Dispatch(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "dispatch", msg, kvs)
}

// Provider 记录单个 provider 调用失败（🔌）
func (h *LogHelper) Provider(msg string, kvs ...interface{}) {
	h.typed(log.LevelWarn, "provider", msg, kvs)
}

// Breaker 记录熔断器状态变化（⚡）
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.typed(log.LevelWarn, "breaker", msg, kvs)
}

// Stream 记录流式输出相关日志（📡）
func (h *LogHelper) Stream(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "stream", msg, kvs)
}

// RateLimit 记录速率限制日志（🚦）
func (h *LogHelper) RateLimit(msg string, kvs ...interface{}) {
	h.typed(log.LevelWarn, "rate_limit", msg, kvs)
}

// Credential 记录凭据覆盖日志（🔓），调用方只能传入脱敏后的值
func (h *LogHelper) Credential(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "credential", msg, kvs)
}

// Analysis 记录分析任务生命周期（🧪）
func (h *LogHelper) Analysis(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "analysis", msg, kvs)
}

// Task 记录单个任务结果（🧩）
func (h *LogHelper) Task(msg string, kvs ...interface{}) {
	h.typed(log.LevelDebug, "task", msg, kvs)
}

// Sweep 记录过期分析清理（🧹）
func (h *LogHelper) Sweep(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "sweep", msg, kvs)
}

// Scheduler 记录定时任务日志（🎯）
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "scheduler", msg, kvs)
}

// Audit 记录审计日志（📋）
func (h *LogHelper) Audit(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "audit", msg, kvs)
}

// Startup 记录启动相关日志（🚀）
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.typed(log.LevelInfo, "startup", msg, kvs)
}

// ========== Context-Aware 日志方法 ==========

// SlowRequest 记录慢请求警告（🐌）
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("[%s] Slow request detected | %s %s | %dms (threshold: %dms)",
		reqCtx.RequestID, method, url, duration, threshold)

	kvs = append(kvs,
		"request_id", reqCtx.RequestID,
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	)
	h.typed(log.LevelWarn, "slow_request", msg, kvs)
}

// RequestWithContext 记录 HTTP 请求日志并检测慢请求
// 流式请求天然耗时较长，调用方可以传入 stream=true 跳过慢请求检测
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	reqCtx := GetRequestContext(ctx)
	msg := fmt.Sprintf("%s %s - %d (%dms) | RequestID: %s",
		method, url, status, durationMs, reqCtx.RequestID)

	stream := false
	for i := 0; i+1 < len(kvs); i += 2 {
		if kvs[i] == "stream" {
			stream, _ = kvs[i+1].(bool)
		}
	}

	fields := append([]interface{}{}, kvs...)
	fields = append(fields,
		"request_id", reqCtx.RequestID,
		"client_ip", reqCtx.ClientIP,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	if len(reqCtx.Overrides) > 0 {
		fields = append(fields, "credential_overrides", reqCtx.Overrides)
	}
	h.typed(log.LevelInfo, "request", msg, fields)

	if !stream && durationMs > slowRequestThresholdMs {
		h.SlowRequest(ctx, method, url, durationMs, slowRequestThresholdMs)
	}
}
