// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/confutil"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L accesses the current logger from the context
	L = loggerFromContext

	initDone atomic.Bool
)

type ctxLogKey struct{}

// maxFieldLen keeps request IDs and URLs readable on a single log line
const maxFieldLen = 61

func InitConfig(lc *conf.LogConfig) {
	initDone.Store(true) // before SetLevel, so SetLevel does not recurse into EnsureInit
	def := conf.LogDefaults

	SetLevel(confutil.StringNotEmpty(lc.Level, *def.Level))

	switch confutil.StringNotEmpty(lc.Output, *def.Output) {
	case "file":
		filename := confutil.StringNotEmpty(lc.File.Filename, *def.File.Filename)
		rootLogger.Infof("Logs diverted to %s", filename)
		logrus.SetOutput(fileWriter(filename, &lc.File))
	case "stdout":
		logrus.SetOutput(os.Stdout)
	default:
		logrus.SetOutput(os.Stderr)
	}

	setFormatting(&formatting{
		format:          confutil.StringNotEmpty(lc.Format, *def.Format),
		disableColor:    confutil.Bool(lc.DisableColor, *def.DisableColor),
		forceColor:      confutil.Bool(lc.ForceColor, *def.ForceColor),
		timestampFormat: confutil.StringNotEmpty(lc.TimeFormat, *def.TimeFormat),
		utc:             confutil.Bool(lc.UTC, *def.UTC),
		jsonFields: logrus.FieldMap{
			logrus.FieldKeyTime:  confutil.StringNotEmpty(lc.JSON.TimestampField, *def.JSON.TimestampField),
			logrus.FieldKeyLevel: confutil.StringNotEmpty(lc.JSON.LevelField, *def.JSON.LevelField),
			logrus.FieldKeyMsg:   confutil.StringNotEmpty(lc.JSON.MessageField, *def.JSON.MessageField),
			logrus.FieldKeyFunc:  confutil.StringNotEmpty(lc.JSON.FuncField, *def.JSON.FuncField),
			logrus.FieldKeyFile:  confutil.StringNotEmpty(lc.JSON.FileField, *def.JSON.FileField),
		},
	})
}

func fileWriter(filename string, fc *conf.LogFileConfig) *lumberjack.Logger {
	def := conf.LogDefaults.File
	maxSize := confutil.ByteSize(fc.MaxSize, 0, *def.MaxSize)
	maxAge := confutil.DurationMin(fc.MaxAge, 0, *def.MaxAge)
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    int(math.Ceil(float64(maxSize) / (1024 * 1024))),       // megabytes, rounded up
		MaxBackups: confutil.IntMin(fc.MaxBackups, 0, *def.MaxBackups),
		MaxAge:     int(math.Ceil(float64(maxAge) / float64(24*time.Hour))), // days, rounded up
		Compress:   confutil.Bool(fc.Compress, *def.Compress),
	}
}

// EnsureInit makes sure unit tests that never load config still get sensible formatting
func EnsureInit() {
	if !initDone.Load() {
		InitConfig(&conf.LogConfig{})
	}
}

func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

func IsTraceEnabled() bool {
	return logrus.IsLevelEnabled(logrus.TraceLevel)
}

// WithLogger adds the specified logger to the context
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	EnsureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds the specified field to the logger in the context
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > maxFieldLen {
		value = value[0:maxFieldLen] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

// WithComponent is the standard way each manager tags its background loops
func WithComponent(ctx context.Context, component string) context.Context {
	return WithLogField(ctx, "component", component)
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry); ok {
			return logger
		}
	}
	return rootLogger
}

func GetLevel() string {
	switch logrus.GetLevel() {
	case logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warn"
	case logrus.DebugLevel:
		return "debug"
	case logrus.TraceLevel:
		return "trace"
	default:
		return "info"
	}
}

func SetLevel(level string) {
	l := logrus.InfoLevel
	switch strings.ToLower(level) {
	case "error":
		l = logrus.ErrorLevel
	case "warn", "warning":
		l = logrus.WarnLevel
	case "debug":
		l = logrus.DebugLevel
	case "trace":
		l = logrus.TraceLevel
	}
	logrus.SetLevel(l)
}
