package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is structured logging fields
type Fields = logrus.Fields

// New creates a configured logger instance
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(levelFromEnv())
	return logger
}

// NewWithService creates a logger that tags every entry with a service field
func NewWithService(service string) *logrus.Entry {
	return New().WithField("service", service)
}

func levelFromEnv() logrus.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
