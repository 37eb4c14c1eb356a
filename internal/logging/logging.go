package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/headfull/chrome-api/internal/config"
)

// Setup configures the process-wide logger from config and returns it.
// JSON output for machines, plain text when running with HFC_DEBUG.
func Setup(cfg *config.Config) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Debug {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	return log
}
