package system

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestLogger returns a debug-level sugared logger that writes through
// tb.Log, so log lines show up under the test that emitted them.
func NewTestLogger(tb testing.TB) *zap.SugaredLogger {
	return zaptest.NewLogger(tb, zaptest.Level(zapcore.DebugLevel), zaptest.WrapOptions(zap.AddCaller())).Sugar()
}
