package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mcclellann/lendengine/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "lendengine"

// initializeLogger builds the service logger. The CLI level, when set, beats
// the configured one. Every line carries the service name, and json output is
// never sampled so each payment and reversal leaves a trace.
func initializeLogger(loggingConfig config.LoggingConfig, logLevelOverride string) (*zap.Logger, error) {
	name := loggingConfig.Level
	if logLevelOverride != "" {
		name = logLevelOverride
	}
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	// An empty name parses as info.
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil || level > zapcore.ErrorLevel {
		return nil, fmt.Errorf("invalid log level: %s", name)
	}

	var zapConfig zap.Config
	switch loggingConfig.Format {
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
	case "json", "":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Sampling = nil
		zapConfig.EncoderConfig.TimeKey = "time"
		zapConfig.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format: %s", loggingConfig.Format)
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.InitialFields = map[string]interface{}{"service": serviceName}

	if path := loggingConfig.OutputFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", path, err)
		}
		zapConfig.OutputPaths = []string{path}
		zapConfig.ErrorOutputPaths = []string{path}
	}

	return zapConfig.Build()
}
