package server

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 是全局可用的 SugaredLogger，用于统一日志输出
var Log = zap.NewNop().Sugar()

// LogConfig 日志输出配置
type LogConfig struct {
	File    string // 日志文件路径，如 "farmworld.log"；为空则只写控制台
	Level   string // debug / info / warn / error
	Console bool   // 同时输出到 stderr
}

// InitLogger 初始化 zap 日志到本地文件（支持滚动），可选同时输出到控制台
func InitLogger(cfg LogConfig) error {
	level := zapcore.DebugLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = l
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
	encoder := zapcore.NewConsoleEncoder(encCfg)

	var cores []zapcore.Core
	if cfg.File != "" {
		// 文件滚动策略：10MB 每文件，保留3个备份，最多保留7天
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   false,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(lj), level))
	}
	if cfg.Console || cfg.File == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Log = logger.Sugar()
	return nil
}

// SyncLogger 清理和同步缓冲
func SyncLogger() error {
	if Log == nil {
		return nil
	}
	return Log.Sync()
}
