// Logging and unhandled-error policy for rxrt
// 日志与未处理错误策略
package rxrt

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	packageLogger atomic.Pointer[zap.Logger]
	unhandledFn   atomic.Pointer[func(error)]
)

func init() {
	packageLogger.Store(newDefaultLogger())
}

// newDefaultLogger 默认只输出Warn及以上级别
func newDefaultLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("rxrt")
}

// Logger 返回包级日志器
func Logger() *zap.Logger {
	return packageLogger.Load()
}

// SetLogger 替换包级日志器，返回恢复函数
func SetLogger(logger *zap.Logger) (restore func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prev := packageLogger.Swap(logger)
	return func() { packageLogger.Store(prev) }
}

// SetUnhandledErrorHandler 替换未处理错误的处理函数，返回恢复函数。
// 默认行为是记录Fatal日志并终止进程。
func SetUnhandledErrorHandler(handler func(error)) (restore func()) {
	var prev *func(error)
	if handler == nil {
		prev = unhandledFn.Swap(nil)
	} else {
		prev = unhandledFn.Swap(&handler)
	}
	return func() { unhandledFn.Store(prev) }
}

// handleUnhandled 订阅者没有提供 onError 时调用
func handleUnhandled(err error) {
	if h := unhandledFn.Load(); h != nil {
		(*h)(err)
		return
	}
	Logger().Fatal("unhandled stream error", zap.Error(err))
}
