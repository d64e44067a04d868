// Package logger 构建应用统一使用的 zap 日志器。
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 根据运行环境创建日志器：dev 使用开发配置，其余使用生产配置。
// encoding 为空时沿用对应配置的默认编码。
func New(env, level, encoding, app, version string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "dev") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	if encoding != "" {
		cfg.Encoding = encoding
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg.InitialFields = map[string]any{
		"app":     app,
		"version": version,
		"env":     env,
	}

	return cfg.Build()
}
