package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	base  *zap.Logger
	log   *zap.Logger
	sugar *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// ParseLevel 解析日志级别，无法识别时返回 info
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init 初始化日志
func Init(lvl string, development bool) error {
	level.SetLevel(ParseLevel(lvl))

	config := zap.Config{
		Level:       level,
		Development: development,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	built, err := config.Build()
	if err != nil {
		return err
	}
	set(built)
	return nil
}

// Replace 替换全局 logger，测试里用 zaptest/observer 接管输出
func Replace(l *zap.Logger) {
	set(l)
}

func set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	// 包级函数多一层调用栈
	log = l.WithOptions(zap.AddCallerSkip(1))
	sugar = base.Sugar()
}

// SetLevel 运行时调整日志级别
func SetLevel(lvl string) {
	level.SetLevel(ParseLevel(lvl))
}

// Level 当前日志级别
func Level() zapcore.Level {
	return level.Level()
}

func ensure() {
	mu.RLock()
	ok := base != nil
	mu.RUnlock()
	if !ok {
		// 如果未初始化，使用默认配置
		_ = Init("info", false)
	}
}

// L 获取 logger
func L() *zap.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// S 获取 sugared logger
func S() *zap.SugaredLogger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Named 组件 logger
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync 同步日志
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if base != nil {
		return base.Sync()
	}
	return nil
}

// With 创建带字段的 logger
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

func skipped() *zap.Logger {
	ensure()
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	skipped().Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	skipped().Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	skipped().Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	skipped().Error(msg, fields...)
}

// Fatal 致命错误日志
func Fatal(msg string, fields ...zap.Field) {
	skipped().Fatal(msg, fields...)
	os.Exit(1)
}
