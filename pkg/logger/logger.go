package logger

import (
	"os"
	"strings"

	"github.com/labstack/gommon/log"
)

var std = newLogger()

func newLogger() *log.Logger {
	l := log.New("chatcore")
	l.SetOutput(os.Stdout)
	l.SetHeader("${time_rfc3339} ${level} ${prefix}")
	l.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	if os.Getenv("ENVIRONMENT") == "development" && os.Getenv("LOG_LEVEL") == "" {
		l.SetLevel(log.DEBUG)
	}
	return l
}

func parseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "silent":
		return log.OFF
	default:
		return log.INFO
	}
}

// SetLevel overrides the level picked from LOG_LEVEL at start-up.
func SetLevel(level string) {
	std.SetLevel(parseLevel(level))
}

// Logger exposes the shared logger so echo can log through it.
func Logger() *log.Logger {
	return std
}

func Info(format string, v ...interface{}) {
	std.Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	std.Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	std.Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	std.Warnf(format, v...)
}
