package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Init initializes the logger based on configuration.
//
// The rendered status line goes to stdout, so log output must never
// touch stdout: it is either a log file or stderr.
func Init(level, output string) (*logrus.Logger, error) {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var out io.Writer
	switch output {
	case "", "stderr":
		out = os.Stderr
	default:
		// Ensure directory exists
		dir := filepath.Dir(output)
		if dir != "." && dir != ".." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		out = file
	}
	logger.SetOutput(out)

	// Route the package-level logger the same way so packages using the
	// default logrus instance stay off stdout too.
	logrus.SetOutput(out)
	logrus.SetLevel(logLevel)

	return logger, nil
}
