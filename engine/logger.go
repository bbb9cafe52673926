package engine

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	nop    = zap.NewNop()
	logger atomic.Pointer[zap.Logger]
)

// Logger returns the package logger engines fall back to when their Config
// carries none. It is a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger replaces the package logger. A nil logger restores the no-op one.
// Engines created earlier keep the logger they started with.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}

// streamWriter forwards engine stdout and stderr to a logger.
type streamWriter struct {
	log    *zap.Logger
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.log.Debug("engine output", zap.String("stream", w.stream), zap.ByteString("data", p))
	return len(p), nil
}
