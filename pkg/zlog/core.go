package zlog

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 创建一个 *zap.Logger，不替换全局
func New(cfg Config, opts ...zap.Option) (*zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initLevel(cfg.Level)

	// dev/test 环境用开发编码器，带颜色级别，便于本地排查
	env := strings.ToLower(os.Getenv("APP_ENV"))
	var encCfg zapcore.EncoderConfig
	if env == "dev" || env == "test" {
		encCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encCfg = zap.NewProductionEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Encoding) == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, buildWriteSyncer(cfg), dynamicLevel)
	core = wrapWithMetric(core, cfg)

	allOpts := append(opts,
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.Fields(zap.String("service", cfg.Service)),
	)
	return zap.New(core, allOpts...), nil
}
