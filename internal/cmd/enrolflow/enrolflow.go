// Package enrolflow parses service configuration and launches the
// enrolment cascade service: HTTP intake, notification dispatch, and the
// expiration sweeper in one process.
package enrolflow

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/app"
	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/engine"
	"github.com/coursekit/enrolflow/internal/enrol/notify"
	"github.com/coursekit/enrolflow/internal/enrol/storage/sqlite"
	"github.com/coursekit/enrolflow/internal/enrol/sweeper"
	"github.com/coursekit/enrolflow/internal/platform/config"
	"github.com/coursekit/enrolflow/internal/platform/otel"
)

const serviceName = "enrolflow"

// Config holds service configuration.
type Config struct {
	DBPath           string        `env:"ENROLFLOW_DB_PATH" envDefault:"enrolflow.db"`
	HTTPAddr         string        `env:"ENROLFLOW_HTTP_ADDR" envDefault:":8080"`
	SweepInterval    time.Duration `env:"ENROLFLOW_SWEEP_INTERVAL" envDefault:"1h"`
	DispatchInterval time.Duration `env:"ENROLFLOW_DISPATCH_INTERVAL" envDefault:"15s"`
	DispatchBatch    int           `env:"ENROLFLOW_DISPATCH_BATCH" envDefault:"32"`
	ExpiryAction     string        `env:"ENROLFLOW_EXPIRY_ACTION" envDefault:"suspend"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the sqlite database file")
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run wires the service and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("shutdown tracing: %v", err)
		}
	}()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	eng := engine.New(engine.Stores{
		Rules:       store,
		Memberships: store,
		Groups:      store,
		Units:       store,
		Roles:       store,
		Queue:       store,
		AccessCache: store,
	})
	renderer := notify.NewRenderer(store, store, store, notify.LogTransport{})
	sweep := sweeper.New(store, domain.ParseExpiryAction(cfg.ExpiryAction))

	cancelDispatch, dispatchDone := app.StartDispatchWorker(store, renderer, cfg.DispatchInterval, cfg.DispatchBatch)
	defer func() {
		cancelDispatch()
		<-dispatchDone
	}()
	cancelSweep, sweepDone := app.StartSweepWorker(sweep, cfg.SweepInterval)
	defer func() {
		cancelSweep()
		<-sweepDone
	}()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewServer(eng, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
