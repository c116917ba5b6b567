// Package logger builds the process-wide zap.Logger. Sink/rotation setup
// belongs to the listener glue (spec.md §1 treats "logging" as an external
// collaborator); this package only picks the encoder/level pair.
package logger

import "go.uber.org/zap"

// New returns a production logger, or a development one (console-encoded,
// debug level) when debug is true.
func New(debug bool) *zap.Logger {
	if debug {
		log, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}

		return log
	}

	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}

	return log
}
