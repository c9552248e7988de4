package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"

	"github.com/danmuck/fedlink/internal/logging"
	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/protocol/session"
	"github.com/joho/godotenv"
)

const envFile = ".env"

func main() {
	if err := loadEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "fedctl: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime()
	observability.InitLogger("fedctl")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "fedctl: %s: %v\n", session.KindOf(err), err)
		os.Exit(1)
	}
}

// loadEnv applies FEDLINK_* settings from path when the file exists.
// Variables already present in the environment win.
func loadEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
