package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/leaseline/voicebridge/pkg/bridge/config"
	"github.com/leaseline/voicebridge/pkg/bridge/server"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, deps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(cfg config.Config, logger *slog.Logger) (*server.Server, error) {
			t.Fatalf("newServer should not be called when config load fails")
			return nil, nil
		},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunMain_ReturnsNonZeroWhenServerBuildFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, deps{
		loadConfig: func() (config.Config, error) {
			return config.Config{StoreDriver: config.StoreMemory}, nil
		},
		newServer: func(cfg config.Config, logger *slog.Logger) (*server.Server, error) {
			return nil, errors.New("bad wiring")
		},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
}
