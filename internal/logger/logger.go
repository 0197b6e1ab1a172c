// Package logger 提供进程级 zap 日志（lumberjack 滚动写文件）
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger；Init 之前为 no-op，调用方无需判空
var Log = zap.NewNop().Sugar()

// Init 初始化日志输出：filePath 为空时写 stderr，否则写入滚动文件
// level: zap 级别名，如 "debug"、"info"
func Init(filePath, level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	var ws zapcore.WriteSyncer
	if filePath == "" {
		ws = zapcore.Lock(os.Stderr)
	} else {
		// 文件滚动策略：10MB 每文件，保留3个备份，7天
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		})
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, lvl)

	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// Named 返回带模块名的子 logger
func Named(name string) *zap.SugaredLogger {
	return Log.Named(name)
}

// Sync 清理和同步缓冲
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
