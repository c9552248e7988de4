package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/fedlink/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func TestLogOperationLevelFollowsOutcome(t *testing.T) {
	testlog.Start(t)
	outcomes := map[string]Outcome{
		"late":   {Kind: "timeout", Level: zerolog.WarnLevel},
		"link":   {Kind: "transport_unavailable", Level: zerolog.ErrorLevel},
		"custom": {Kind: "renamed_kind", Level: zerolog.WarnLevel},
	}
	classify := func(err error) Outcome { return outcomes[err.Error()] }
	cases := []struct {
		err   error
		level string
		kind  string
	}{
		{err: nil, level: "info", kind: "ok"},
		{err: errors.New("late"), level: "warn", kind: "timeout"},
		{err: errors.New("link"), level: "error", kind: "transport_unavailable"},
		{err: errors.New("custom"), level: "warn", kind: "renamed_kind"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
		LogOperation(logger, "sess-1", "classify", time.Now().Add(-time.Second), tc.err, classify)

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("decode log line %q: %v", buf.String(), err)
		}
		if line["level"] != tc.level {
			t.Fatalf("kind=%s level got=%v want=%s", tc.kind, line["level"], tc.level)
		}
		if line["outcome"] != tc.kind || line["session"] != "sess-1" || line["op"] != "classify" {
			t.Fatalf("unexpected fields: %v", line)
		}
		if _, ok := line["error"]; ok != (tc.err != nil) {
			t.Fatalf("error field presence mismatch: %v", line)
		}
	}
}

func TestLogOperationWithoutClassifier(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	LogOperation(zerolog.New(&buf), "sess-2", "train", time.Now(), errors.New("boom"), nil)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["level"] != "error" || line["outcome"] != "error" {
		t.Fatalf("unexpected fallback outcome: %v", line)
	}
}
