// Package logger is a package-level zap.Logger wrapper, deliberately
// global: VFIO connect/disconnect spans several packages (vfiouapi,
// machine, vfiopci) that have no natural place to thread a *zap.Logger
// through without polluting every constructor signature.
package logger

import "go.uber.org/zap"

var log *zap.Logger

// SetMode selects development (human-readable, debug-level) or
// production (JSON, info-level) encoding. Call once at startup, before
// any other package logs.
func SetMode(mode string) {
	if mode == "dev" {
		log, _ = zap.NewDevelopment()
	} else {
		log, _ = zap.NewProduction()
	}
}

func init() {
	// A usable default so packages that log during init (flag parsing,
	// config validation) before main calls SetMode don't nil-pointer.
	log, _ = zap.NewProduction()
}

func toFields(kvs ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(kvs)/2+1)
	i := 0
	for i < len(kvs) {
		switch v := kvs[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
		case string:
			if i+1 < len(kvs) {
				fields = append(fields, zap.Any(v, kvs[i+1]))
				i += 2
			} else {
				fields = append(fields, zap.Any(v, nil))
				i++
			}
		default:
			fields = append(fields, zap.Any("", v))
			i++
		}
	}
	return fields
}

func Info(msg string, kvs ...interface{})  { log.Info(msg, toFields(kvs...)...) }
func Warn(msg string, kvs ...interface{})  { log.Warn(msg, toFields(kvs...)...) }
func Error(msg string, kvs ...interface{}) { log.Error(msg, toFields(kvs...)...) }
func Debug(msg string, kvs ...interface{}) { log.Debug(msg, toFields(kvs...)...) }

func Sync() error {
	return log.Sync()
}
