package log

import (
	"bytes"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newBufferedAdapter 创建写入内存缓冲区的 JSON logger
func newBufferedAdapter() (*KratosAdapter, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		}),
		zapcore.AddSync(buf),
		zapcore.DebugLevel,
	)
	return &KratosAdapter{zapLogger: zap.New(core)}, buf
}
