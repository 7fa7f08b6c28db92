package zlog

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// WithContext 把请求级 logger 放进 ctx
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// WithFields 在 ctx 现有 logger 上追加字段，后台任务用它带上任务名等上下文
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithContext(ctx, FromContext(ctx).With(fields...))
}

// FromContext 取出请求级 logger，没有则退回全局 logger
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.L()
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

// C 是简写
func C(ctx context.Context) *zap.Logger { return FromContext(ctx) }
