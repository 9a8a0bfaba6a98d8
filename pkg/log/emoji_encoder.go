package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap 定义日志类型到表情符号的映射
// 日志调用时携带 "type" 字段即可触发对应表情符号
var emojiMap = map[string]string{
	"request":      "🌐",
	"dispatch":     "🔀",
	"provider":     "🔌",
	"breaker":      "⚡",
	"stream":       "📡",
	"rate_limit":   "🚦",
	"credential":   "🔓",
	"analysis":     "🧪",
	"task":         "🧩",
	"sweep":        "🧹",
	"scheduler":    "🎯",
	"audit":        "📋",
	"database":     "💾",
	"redis":        "📦",
	"startup":      "🚀",
	"slow_request": "🐌",
}

// statusEmoji 根据 HTTP 状态码返回表情符号
func statusEmoji(status int64) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	}
	return "🟢"
}

// levelEmoji 是没有 type/status 字段时的兜底表情符号
func levelEmoji(level zapcore.Level) string {
	switch {
	case level >= zapcore.ErrorLevel:
		return "❌"
	case level == zapcore.WarnLevel:
		return "⚠️"
	case level == zapcore.DebugLevel:
		return "🐛"
	}
	return "ℹ️"
}

// EmojiConsoleEncoder 包装 zap 的 ConsoleEncoder，为消息加上表情符号前缀
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry 优先级: HTTP status > type 字段 > 日志级别
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var (
		logType string
		status  int64
	)
	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	emoji := ""
	if status > 0 {
		emoji = statusEmoji(status)
	} else if e, ok := emojiMap[logType]; ok {
		emoji = e
	}
	if emoji == "" {
		emoji = levelEmoji(entry.Level)
	}

	entry.Message = emoji + " " + entry.Message
	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}
