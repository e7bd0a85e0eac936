/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds the process-wide zap.Logger from
// config.LoggingConfig. Every component takes a *zap.Logger explicitly
// rather than reaching for a package-level global, so tests can pass
// zap.NewNop() and production wiring happens exactly once, here.
package logging

import (
	"github.com/conductorhq/conductor/internal/apperrors"
	"github.com/conductorhq/conductor/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger from cfg. "json" format yields the production
// config (structured, one JSON object per line); "console" yields the
// development config (human-readable, colorized level).
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.KindUnrecoverable, "parse log level %q", cfg.Level)
	}

	var zcfg zap.Config
	switch cfg.Format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnrecoverable, "build logger")
	}
	return logger, nil
}
