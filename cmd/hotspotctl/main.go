// Command hotspotctl runs operator actions against the hotspot store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/app"
	"github.com/lueurxax/hotspot-engine/internal/platform/config"
	"github.com/lueurxax/hotspot-engine/internal/process/cluster"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
	db "github.com/lueurxax/hotspot-engine/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openStore)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore connects to the configured database and wires the operator components.
func openStore(ctx context.Context, verbose bool) (*operator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	database, err := db.New(ctx, cfg.PostgresDSN, &logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &operator{
		clusters:  cluster.New(database, &logger),
		lifecycle: lifecycle.New(database, app.LifecycleConfig(cfg), &logger),
		embedder:  app.NewEmbedder(cfg, &logger),
		close:     database.Close,
	}, nil
}
