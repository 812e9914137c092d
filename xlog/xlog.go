// Package xlog provides a leveled, module-tagged logger for the habsim
// services, backed by go.uber.org/zap.
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package xlog

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
	vlevel int32
)

func base() *zap.SugaredLogger {
	once.Do(func() {
		lvl := zapcore.InfoLevel
		if os.Getenv("HABSIM_DEBUG") != "" {
			lvl = zapcore.DebugLevel
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.TimeKey = "ts"
		z, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			z = zap.NewNop()
		}
		logger = z.Sugar()
		if v := os.Getenv("HABSIM_VERBOSITY"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				atomic.StoreInt32(&vlevel, int32(n))
			}
		}
	})
	return logger
}

// Named returns a module-tagged child logger, mirroring the teacher's
// per-module glog smodules.
func Named(module string) *Logger {
	return &Logger{l: base().Named(module)}
}

type Logger struct{ l *zap.SugaredLogger }

func (g *Logger) Infof(format string, args ...interface{})    { g.l.Infof(format, args...) }
func (g *Logger) Warnf(format string, args ...interface{})    { g.l.Warnf(format, args...) }
func (g *Logger) Errorf(format string, args ...interface{})   { g.l.Errorf(format, args...) }
func (g *Logger) Fatalf(format string, args ...interface{})   { g.l.Fatalf(format, args...) }
func (g *Logger) Infoln(args ...interface{})                  { g.l.Infoln(args...) }

// V reports whether verbosity level lvl is enabled, mirroring glog's V(lvl).
func V(lvl int32) bool { return atomic.LoadInt32(&vlevel) >= lvl }

func Infof(format string, args ...interface{})  { base().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base().Errorf(format, args...) }
func Sync()                                     { _ = base().Sync() }
