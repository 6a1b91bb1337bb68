package entitysync

import (
	"io"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// NewLogger builds a structured zerolog.Logger tagged with this package's
// service name, the way the teacher corpus's websocket servers configure
// theirs: JSON to stdout by default, a console writer for local development.
func NewLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var output io.Writer = os.Stdout
	if format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
	}

	return zerolog.New(output).With().Timestamp().Str("service", "entitysync").Logger()
}

// LogError logs err with msg and arbitrary structured fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic must itself be the deferred call (defer RecoverPanic(logger,
// msg)) at the top of a tick loop or goroutine, since recover only takes
// effect when called directly by a deferred function; wrapped in another
// deferred closure it recovers nothing. It logs a recovered panic with its
// stack trace rather than letting it crash the process silently.
func RecoverPanic(logger zerolog.Logger, msg string) {
	if r := recover(); r != nil {
		logger.Error().
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg(msg)
	}
}
