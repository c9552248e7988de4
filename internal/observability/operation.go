package observability

import (
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the result class of an operation and the level it is logged at.
type Outcome struct {
	Kind  string
	Level zerolog.Level
}

// ErrorClassifier maps a non-nil operation error to its Outcome.
type ErrorClassifier func(error) Outcome

var (
	outcomeOK      = Outcome{Kind: "ok", Level: zerolog.InfoLevel}
	outcomeUnknown = Outcome{Kind: "error", Level: zerolog.ErrorLevel}
)

// LogOperation emits one completion line for a protocol operation at the
// level classify assigns to err. Success logs at info.
func LogOperation(logger zerolog.Logger, sessionID, op string, start time.Time, err error, classify ErrorClassifier) {
	elapsed := time.Since(start)
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeUnknown
		if classify != nil {
			outcome = classify(err)
		}
	}

	event := logger.WithLevel(outcome.Level).
		Str("session", sessionID).
		Str("op", op).
		Str("outcome", outcome.Kind).
		Dur("elapsed", elapsed)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("operation complete")

	RecordOperation(op, outcome.Kind, elapsed)
}
