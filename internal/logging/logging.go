// Package logging builds the broker's zap loggers: a root logger whose
// level comes from the environment, and per-tenant loggers teed to
// files under the user's log directory.
package logging

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelEnvVar selects the log level (debug, info, warn, error).
const LevelEnvVar = "CODELENS_LOG"

// HomeEnvVar overrides the broker's home directory (default ~/.codelens).
const HomeEnvVar = "CODELENS_HOME"

// Home returns the broker's home directory.
func Home() string {
	if dir := os.Getenv(HomeEnvVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codelens"
	}
	return filepath.Join(home, ".codelens")
}

// LogDir returns the directory for tenant and server logs.
func LogDir() string {
	return filepath.Join(Home(), "logs")
}

// levelFromEnv reads LevelEnvVar, defaulting to info.
func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv(LevelEnvVar)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the root logger. Console output goes to stderr — stdout
// belongs to the agent protocol. With debug true the console encoder
// is used at debug level regardless of the environment.
func New(debug bool) *zap.Logger {
	level := levelFromEnv()
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if debug {
		level = zapcore.DebugLevel
		devConfig := zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(devConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}

// ForTenant tees a logger to ~/.codelens/logs/tenant-<id>.log in
// addition to the parent's output. File problems degrade to the parent
// logger alone.
func ForTenant(parent *zap.Logger, tenantID string) *zap.Logger {
	dir := LogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return parent
	}
	path := filepath.Join(dir, "tenant-"+tenantID+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return parent
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(file),
		zapcore.InfoLevel,
	)

	return parent.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})).With(zap.String("tenant", tenantID))
}
