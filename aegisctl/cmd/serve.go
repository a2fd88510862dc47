package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rutishh0/testingAegis/backend"
	"github.com/rutishh0/testingAegis/backend/relay"
	"github.com/rutishh0/testingAegis/proto/logging"
	"github.com/rutishh0/testingAegis/proto/security"
)

const shutdownTimeout = 10 * time.Second

func init() {
	register("serve", &serveCmd{})
}

type serveCmd struct {
	fs     *flag.FlagSet
	dbWait time.Duration
}

func (serveCmd) desc() string { return "start up an aegis server" }

func (serveCmd) usage() string {
	return "serve [-http=<interface:port>] [-psql=<dsn>] [-relay-bus=local|postgres|nats]"
}

func (serveCmd) longdesc() string {
	return `
	Start an aegis server. The server listens for HTTP and websocket
	requests at the address given by -http, or on PORT from the
	environment. Configuration is read from the file given by -config,
	then from the environment, then from flags.

	Without a database dsn, messages are kept in memory. The server runs
	until it receives SIGINT or SIGTERM, then drains open requests.
`[1:]
}

func (cmd *serveCmd) flags() *flag.FlagSet {
	cmd.fs = flag.NewFlagSet("serve", flag.ExitOnError)
	backend.Config.AddFlags(cmd.fs)
	cmd.fs.DurationVar(&cmd.dbWait, "db-wait", 30*time.Second, "how long to wait for the database at startup")
	return cmd.fs
}

func (cmd *serveCmd) run(ctx context.Context, args []string) error {
	logger := logging.Logger(ctx)

	cfg, err := loadConfig(cmd.fs)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	b, err := getBackend(ctx, cfg, cmd.dbWait)
	if err != nil {
		return err
	}
	defer b.Close()

	if cfg.Admin.PublicKey != "" {
		if _, err := security.DecodePublicKey(cfg.Admin.PublicKey); err != nil {
			return fmt.Errorf("admin public key: %s", err)
		}
		if err := b.SetAdminPublicKey(ctx, cfg.Admin.PublicKey); err != nil {
			return fmt.Errorf("admin public key: %s", err)
		}
	}

	bus, err := getBus(ctx, cfg, b)
	if err != nil {
		return fmt.Errorf("relay bus error: %s", err)
	}
	r, err := relay.New(ctx, bus)
	if err != nil {
		bus.Close()
		return err
	}
	defer r.Close()

	server, err := backend.NewServer(ctx, b, r, cfg)
	if err != nil {
		return fmt.Errorf("server error: %s", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           newVersioningHandler(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("serving %s on %s (relay bus: %s)", Version, cfg.HTTP.Listen, cfg.Relay.Bus)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Printf("waiting for graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %s", err)
		}
		return nil
	})
	return g.Wait()
}

type versioningHandler struct {
	version string
	handler http.Handler
}

func newVersioningHandler(handler http.Handler) http.Handler {
	return &versioningHandler{
		version: Version,
		handler: handler,
	}
}

func (vh *versioningHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if vh.version != "" {
		w.Header().Set("X-Aegis-Version", vh.version)
	}
	vh.handler.ServeHTTP(w, r)
}
