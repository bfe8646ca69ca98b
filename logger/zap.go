package logger

import (
	"go.uber.org/zap"

	"github.com/alexhholmes/ordex"
)

// Zap wraps a zap.Logger.
type Zap struct {
	sugar *zap.SugaredLogger
}

// NewZap creates an ordex.Logger that writes to logger.
func NewZap(logger *zap.Logger) ordex.Logger {
	// skip the adapter frame so callers show up in the output
	return &Zap{sugar: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *Zap) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }

func (z *Zap) Warn(msg string, args ...any) { z.sugar.Warnw(msg, args...) }

func (z *Zap) Info(msg string, args ...any) { z.sugar.Infow(msg, args...) }
