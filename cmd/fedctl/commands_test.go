package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/fedlink/internal/protocol/session"
	"github.com/danmuck/fedlink/internal/testutil/testlog"
)

const fastConfig = `
[session]
poll_interval = "2ms"
send_settle_delay = "0s"
training_grace = "5ms"
benchmark_grace = "5ms"

[benchmark]
trials = 2
cooldown = "5ms"
seed = 11

[sim]
notify_interval = "0s"
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", writeConfig(t, fastConfig)}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGetPrintsLayerMatrices(t *testing.T) {
	testlog.Start(t)
	out, err := run(t, "get")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "layer 1 (11 inputs -> 60 outputs)") || !strings.Contains(out, "layer 2 (60 inputs -> 3 outputs)") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSetClassifyAndTrain(t *testing.T) {
	testlog.Start(t)
	out, err := run(t, "set")
	if err != nil || !strings.Contains(out, "sent 840 weights") {
		t.Fatalf("set: err=%v out=%q", err, out)
	}
	out, err = run(t, "classify")
	if err != nil || !strings.Contains(out, "class:") {
		t.Fatalf("classify: err=%v out=%q", err, out)
	}
	out, err = run(t, "train", "--label", "2")
	if err != nil || !strings.Contains(out, "lock breach") {
		t.Fatalf("train: err=%v out=%q", err, out)
	}
	out, err = run(t, "bench", "train", "-l", "0")
	if err != nil || !strings.Contains(out, "training benchmark complete") {
		t.Fatalf("bench train: err=%v out=%q", err, out)
	}
	if _, err := run(t, "bench", "infer"); err != nil {
		t.Fatalf("bench infer: %v", err)
	}
}

func TestTrainRejectsInvalidLabel(t *testing.T) {
	testlog.Start(t)
	_, err := run(t, "train", "--label", "5")
	if !errors.Is(err, session.ErrInvalidLabel) {
		t.Fatalf("expected ErrInvalidLabel, got=%v", err)
	}
	if session.KindOf(err) != session.KindInvalidLabel {
		t.Fatalf("unexpected kind: %s", session.KindOf(err))
	}
}

func TestMeasureBothPrintsSummary(t *testing.T) {
	testlog.Start(t)
	out, err := run(t, "measure", "both", "--trials", "1")
	if err != nil {
		t.Fatalf("measure both: %v", err)
	}
	for _, want := range []string{"get_weights trials=1", "set_weights trials=1", "summary get_weights count=1", "summary set_weights count=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
	if _, err := run(t, "measure", "sideways"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}
