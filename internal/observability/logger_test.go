package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danmuck/fedlink/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitLoggerTagsApp(t *testing.T) {
	testlog.Start(t)
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	logger := InitLogger("fedctl")
	logger.Info().Msg("hello")
	log.Info().Msg("global")

	out := buf.String()
	if strings.Count(out, `"app":"fedctl"`) != 2 {
		t.Fatalf("app tag missing: got=%s", out)
	}
}
