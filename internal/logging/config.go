// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "CODYCTL_LOG_LEVEL"
	EnvLogTimestamp = "CODYCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "CODYCTL_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		timestamp := true
		noColor := false
		if profile == ProfileTest {
			level = zerolog.DebugLevel
			timestamp = false
		}

		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}
		if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
			timestamp = v
		}
		if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
			noColor = v
		}

		zerolog.SetGlobalLevel(level)
		writer := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}
		if !timestamp {
			writer.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	})
}

// Debugging reports whether the configured level includes debug output.
// The spawned agent inherits this through CODY_DEBUG.
func Debugging() bool {
	return zerolog.GlobalLevel() <= zerolog.DebugLevel
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
