// Package app wires the kernel's storage layer, engines, auth, cache, and
// sweep ticker into a single Application value that cmd/coordinatord and
// internal/httpapi build their surfaces on top of.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tascade/tascade/internal/auth"
	"github.com/tascade/tascade/internal/cache"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/kernel/changeset"
	kctx "github.com/tascade/tascade/internal/kernel/context"
	"github.com/tascade/tascade/internal/kernel/events"
	"github.com/tascade/tascade/internal/kernel/gate"
	"github.com/tascade/tascade/internal/kernel/graph"
	"github.com/tascade/tascade/internal/kernel/integration"
	"github.com/tascade/tascade/internal/kernel/lease"
	"github.com/tascade/tascade/internal/kernel/reservation"
	"github.com/tascade/tascade/internal/kernel/scheduler"
	"github.com/tascade/tascade/internal/kernel/snapshot"
	"github.com/tascade/tascade/internal/kernel/statemachine"
	"github.com/tascade/tascade/internal/platform/database"
	"github.com/tascade/tascade/internal/platform/migrations"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/memory"
	"github.com/tascade/tascade/internal/storage/postgres"
	"github.com/tascade/tascade/internal/sweep"
	"github.com/tascade/tascade/pkg/logger"
)

// Application ties every kernel engine together behind one struct for the
// HTTP/tool-call layer and the CLI to consume.
type Application struct {
	DB  *sql.DB
	Log *logger.Logger

	Stores storage.Stores

	Graph        *graph.Engine
	Scheduler    *scheduler.Engine
	Lease        *lease.Engine
	Reservation  *reservation.Engine
	StateMachine *statemachine.Engine
	Changeset    *changeset.Engine
	Snapshot     *snapshot.Engine
	Gate         *gate.Engine
	Integration  *integration.Engine
	Events       *events.Reader
	Context      *kctx.Engine

	Auth  *auth.Manager
	Cache cache.IdempotencyCache
	Sweep *sweep.Ticker
}

// New builds a fully wired Application from configuration. The caller owns
// calling Close when done (closes the DB handle, if any) and Sweep.Start /
// Sweep.Stop around the process lifetime.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("tascade")
	}

	app := &Application{Log: log}

	switch cfg.StoreBackend {
	case "postgres":
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxConns)
		db.SetConnMaxIdleTime(cfg.DBIdleTimeout)
		if cfg.MigrationsDir != "" {
			if err := migrations.ApplyDir(cfg.MigrationsDir, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply external migrations: %w", err)
			}
		} else if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply embedded migrations: %w", err)
		}
		app.DB = db
		app.Stores = postgres.New(db).Stores()
	case "memory":
		app.Stores = memory.New().Stores()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	app.Graph = graph.New(app.Stores.Graph)
	app.Scheduler = scheduler.New(app.Stores.Graph, app.Stores.Lease, app.Stores.Reservation)
	app.Snapshot = snapshot.New(app.Stores.Snapshot, app.Stores.Graph)
	app.Lease = lease.New(app.Stores.Graph, app.Stores.Lease, app.Stores.Reservation, app.Stores.Event, app.Snapshot, cfg.LeaseTTL)
	app.Reservation = reservation.New(app.Stores.Graph, app.Stores.Reservation, app.Stores.Lease)
	app.Changeset = changeset.New(app.Stores.Graph, app.Stores.ChangeSet, app.Stores.Reservation, app.Stores.Event)
	app.StateMachine = statemachine.New(app.Stores.Graph, app.Stores.Artifact, app.Stores.Gate, app.Stores.Event)
	app.Gate = gate.New(app.Stores.Graph, app.Stores.Gate, app.Stores.Event)
	app.Integration = integration.New(app.Stores.Graph, app.Stores.Artifact, app.Stores.Event)
	app.Events = events.New(app.Stores.Event)
	app.Context = kctx.New(app.Stores.Graph, app.Stores.Event)

	var signer *auth.Signer
	if cfg.AuthEnabled {
		s, err := auth.NewSigner(cfg.JWTSigningKey)
		if err != nil {
			return nil, fmt.Errorf("configure jwt signer: %w", err)
		}
		signer = s
	}
	app.Auth = auth.New(app.Stores.APIKey, signer, log, cfg.AuthEnabled)

	idemCache, err := cache.NewIdempotencyCache(cfg.RedisURL, cfg.CacheLocalSize)
	if err != nil {
		return nil, fmt.Errorf("configure idempotency cache: %w", err)
	}
	app.Cache = idemCache

	ticker, err := sweep.New(app.Lease, app.Reservation, app.Gate, app.Stores.Graph, log,
		fmt.Sprintf("@every %s", cfg.SweepInterval), fmt.Sprintf("@every %s", cfg.GateEvalInterval))
	if err != nil {
		return nil, fmt.Errorf("configure sweep ticker: %w", err)
	}
	app.Sweep = ticker

	return app, nil
}

// Close releases the underlying database handle, if one was opened.
func (a *Application) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
