package zap

import (
	"go.uber.org/zap"

	"github.com/flavio-simonelli/proxchat/internal/logger"
)

// Adapter adapts *zap.Logger to the logger.Logger interface used by
// internal packages.
type Adapter struct {
	L *zap.Logger
}

// NewAdapter wraps l, skipping one extra caller frame so log sites report
// the real call site instead of this file.
func NewAdapter(l *zap.Logger) Adapter {
	return Adapter{L: l.WithOptions(zap.AddCallerSkip(1))}
}

func (a Adapter) With(fields ...logger.Field) logger.Logger {
	return Adapter{L: a.L.With(toZap(fields)...)}
}

func (a Adapter) Named(name string) logger.Logger {
	return Adapter{L: a.L.Named(name)}
}

func (a Adapter) Debug(msg string, fields ...logger.Field) {
	a.L.Debug(msg, toZap(fields)...)
}

func (a Adapter) Info(msg string, fields ...logger.Field) {
	a.L.Info(msg, toZap(fields)...)
}

func (a Adapter) Warn(msg string, fields ...logger.Field) {
	a.L.Warn(msg, toZap(fields)...)
}

func (a Adapter) Error(msg string, fields ...logger.Field) {
	a.L.Error(msg, toZap(fields)...)
}

func toZap(fields []logger.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Val))
	}
	return out
}
