package system

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Debug mode uses the human friendly
// development encoder at debug level; otherwise a JSON production logger at
// info level is returned. Logs go to stderr so command output stays clean.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

// SessionFields returns key/value pairs describing an auth session for
// SugaredLogger.With or Infow calls. Empty values are omitted.
func SessionFields(method, username string) []interface{} {
	fields := []interface{}{"authMethod", method}
	if username != "" {
		fields = append(fields, "username", username)
	}
	return fields
}
