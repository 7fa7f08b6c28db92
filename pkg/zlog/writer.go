package zlog

import (
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func buildWriteSyncer(cfg Config) zapcore.WriteSyncer {
	outputs := make([]zapcore.WriteSyncer, 0, 2)
	if cfg.Stdout {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Path != "" {
		outputs = append(outputs, rotatingFile(cfg.File))
	}
	if len(outputs) == 1 {
		return outputs[0]
	}
	return zapcore.NewMultiWriteSyncer(outputs...)
}

// rotatingFile 按大小切分，切出的文件名带本地时间
func rotatingFile(f FileConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    f.MaxSizeMB,
		MaxAge:     f.MaxAgeDay,
		MaxBackups: f.MaxBackups,
		Compress:   f.Compress,
		LocalTime:  true,
	})
}
