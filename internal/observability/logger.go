// Package observability wires up the relay's structured logger, matching
// seabird-chat-seabird-nwwsio-plugin/cmd/seabird-nwwsio-plugin/main.go's
// isatty-conditional zerolog console/JSON writer and LOG_LEVEL switch,
// generalized into a reusable constructor instead of mutating the global
// logger inline in main.
package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/nwws-relay/nwws-relay/internal/config"
)

// NewLogger builds a zerolog.Logger per the logging configuration group:
// "text" gets a colorized console writer when attached to a TTY with no log
// file configured, and plain JSON lines otherwise (format="json" always forces JSON, even on a TTY,
// matching §6's logging.format option).
func NewLogger(cfg config.Logging) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			out = f
		}
	}

	useConsole := strings.ToLower(cfg.Format) != "json" && isatty.IsTerminal(os.Stdout.Fd()) && cfg.File == ""
	if useConsole {
		consoleWriter := zerolog.ConsoleWriter{Out: out}
		consoleWriter.FormatLevel = func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		}
		out = consoleWriter
	}

	logger := zerolog.New(out).With().Timestamp().Logger()

	switch strings.ToLower(cfg.Level) {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	return logger
}
