package common

import (
	"os"
	"strings"

	"github.com/labstack/gommon/log"
	"github.com/samber/do/v2"
)

func NewLogger(i do.Injector) (*log.Logger, error) {
	level := do.MustInvokeNamed[string](i, "log-level")

	logger := log.New("kessen")
	logger.SetOutput(os.Stdout)
	logger.SetHeader(`{"time":"${time_rfc3339}","level":"${level}","prefix":"${prefix}"}`)
	logger.SetLevel(ParseLogLevel(level))

	return logger, nil
}

func ParseLogLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
