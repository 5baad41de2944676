// Package log 封装了 zap 的 SugaredLogger，为整个服务提供统一的日志入口。
package log

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 在 Init 之前使用 no-op logger，测试里直接调用也不会 panic。
var sugar = zap.NewNop().Sugar()

// Init 初始化服务端 logger：format 为 console 时输出彩色文本，否则输出 JSON。
// outputPath 非空时额外写入 outputPath/app.log。
func Init(level, format, outputPath string) {
	paths := []string{"stdout"}
	if outputPath != "" {
		_ = os.MkdirAll(outputPath, os.ModePerm)
		paths = append(paths, filepath.Join(outputPath, "app.log"))
	}
	sugar = build(level, format, paths)
}

// InitStderr 用于命令行工具，日志写到 stderr，避免和对话内容混在 stdout 上。
func InitStderr(level string) {
	sugar = build(level, "console", []string{"stderr"})
}

func build(level, format string, outputPaths []string) *zap.SugaredLogger {
	atomicLevel := zap.NewAtomicLevel()
	if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
		atomicLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.Encoding = "console"
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Encoding = "json"
	}
	zapConfig.Level = atomicLevel
	zapConfig.OutputPaths = outputPaths

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

// With 返回带固定字段的子 logger，常用来标记组件，例如 log.With("component", "callback-consumer")。
// 子 logger 绑定调用时的全局 logger，所以应在 Init 之后创建。
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return sugar.With(keysAndValues...)
}

// Info 记录一条 info 级别的日志
func Info(msg string) {
	sugar.Info(msg)
}

// Infof 使用格式化字符串记录一条 info 级别的日志
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow 使用键值对记录一条 info 级别的结构化日志。
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	sugar.Debugw(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error 记录一条 error 级别的日志，并附带 error 信息
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, keysAndValues...)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Fatal 记录 error 后退出进程。
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync 刷新缓冲区中的日志。
func Sync() {
	_ = sugar.Sync()
}
