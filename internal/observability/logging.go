package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SetupLogging sets the standard logrus logger's level and formatter.
// format is "json" or "text".
func SetupLogging(level, format string, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q: want json or text", format)
	}

	log.SetOutput(out)
	log.SetLevel(parsed)
	return nil
}
