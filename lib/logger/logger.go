// Package logger provides the shared structured logger for the resource
// layer. All packages obtain their logger through Get so that level and
// formatting are configured in exactly one place.
package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	log  *logrus.Logger
)

// Get returns the shared logger, initializing it on first use.
// The RESERVOIR_LOG environment variable selects the level (debug, info,
// warn, error). The default is warn so the library stays quiet inside
// host applications.
func Get() *logrus.Logger {
	once.Do(func() {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		log.SetLevel(levelFromEnv(os.Getenv("RESERVOIR_LOG")))
	})
	return log
}

// levelFromEnv maps the environment value to a logrus level.
func levelFromEnv(v string) logrus.Level {
	switch strings.ToLower(v) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}
