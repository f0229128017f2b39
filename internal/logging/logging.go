// Package logging configures logrus for the signkit binaries.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const redacted = "[REDACTED]"

var sensitiveKeyParts = []string{"password", "passphrase", "secret", "private", "mnemonic", "phrase", "token"}

// Setup sets logger's level and output and installs the redaction hook.
// An empty path or "console" logs to stderr; anything else is a rotated file.
func Setup(logger *log.Logger, level, path string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if path != "" && path != "console" {
		out = &lumberjack.Logger{
			Filename:   filepath.ToSlash(path),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: out != os.Stderr})
	logger.AddHook(RedactHook{})
	return nil
}

// RedactHook replaces the value of any field whose key looks like it holds
// secret material.
type RedactHook struct{}

func (RedactHook) Levels() []log.Level { return log.AllLevels }

func (RedactHook) Fire(entry *log.Entry) error {
	for k := range entry.Data {
		if IsSensitiveKey(k) {
			entry.Data[k] = redacted
		}
	}
	return nil
}

func IsSensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
