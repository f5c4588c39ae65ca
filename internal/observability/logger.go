package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the daemon's JSON logger. An unknown level is a
// configuration error rather than a silent fallback.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": "wrt"}
	return cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// WorkspaceLogger scopes base to one workspace operation.
func WorkspaceLogger(base *zap.Logger, wsid, op string) *zap.Logger {
	return base.With(zap.String("wsid", wsid), zap.String("op", op))
}
