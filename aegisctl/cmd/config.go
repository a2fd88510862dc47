package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rutishh0/testingAegis/backend"
	"github.com/rutishh0/testingAegis/backend/mock"
	"github.com/rutishh0/testingAegis/backend/natsbus"
	"github.com/rutishh0/testingAegis/backend/psql"
	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/snowflake"
)

var Version = "dev"

var config = flag.String("config", "", "path to a yaml config file")

// loadConfig applies the config file and then the environment to
// backend.Config. Flags explicitly given in fs are applied last.
func loadConfig(fs *flag.FlagSet) (*backend.ServerConfig, error) {
	cfg := &backend.Config
	if *config != "" {
		if err := cfg.LoadFromFile(*config); err != nil {
			return nil, fmt.Errorf("config: %s", err)
		}
	}
	if err := cfg.LoadFromEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("config: %s", err)
	}

	if fs != nil {
		explicit := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
		cfg.AddFlags(explicit)
		var err error
		fs.Visit(func(f *flag.Flag) {
			if err == nil && explicit.Lookup(f.Name) != nil {
				err = explicit.Set(f.Name, f.Value.String())
			}
		})
		if err != nil {
			return nil, fmt.Errorf("config: %s", err)
		}
	}

	if cfg.Relay.NodeID < 0 || cfg.Relay.NodeID > 1023 {
		return nil, fmt.Errorf("config: node-id must be between 0 and 1023")
	}
	snowflake.NodeID = cfg.Relay.NodeID
	return cfg, nil
}

// waitForDB pings until the database answers or timeout passes.
func waitForDB(ctx context.Context, b *psql.Backend, timeout time.Duration) error {
	logger := logging.Logger(ctx)
	deadline := time.Now().Add(timeout)
	delay := 250 * time.Millisecond

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := b.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("database not reachable after %d attempts: %s", attempt, err)
		}
		logger.Printf("database not ready (attempt %d): %s", attempt, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 4*time.Second {
			delay *= 2
		}
	}
}

func getPsqlBackend(ctx context.Context, cfg *backend.ServerConfig, wait time.Duration) (*psql.Backend, error) {
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("a database dsn is required (-psql or DATABASE_URL)")
	}
	b, err := psql.NewBackend(cfg.DB.DSN, Version)
	if err != nil {
		return nil, fmt.Errorf("backend error: %s", err)
	}
	if err := waitForDB(ctx, b, wait); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// getBackend returns postgres storage when a dsn is configured, and
// in-memory storage otherwise.
func getBackend(ctx context.Context, cfg *backend.ServerConfig, wait time.Duration) (proto.Backend, error) {
	if cfg.DB.DSN == "" {
		logging.Logger(ctx).Printf("no database configured, messages will not survive a restart")
		return &mock.TestBackend{}, nil
	}
	return getPsqlBackend(ctx, cfg, wait)
}

func getBus(ctx context.Context, cfg *backend.ServerConfig, b proto.Backend) (relay.Bus, error) {
	switch cfg.Relay.Bus {
	case backend.PostgresBus:
		pb, ok := b.(*psql.Backend)
		if !ok {
			return nil, fmt.Errorf("the postgres relay bus requires postgres storage")
		}
		return psql.NewNotifyBus(pb), nil
	case backend.NATSBus:
		return natsbus.Connect(ctx, cfg.Relay.NATSURL)
	default:
		return relay.NewLocalBus(), nil
	}
}
