package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/bus"
	"github.com/sells-group/docflow/internal/config"
	"github.com/sells-group/docflow/internal/coordinator"
	"github.com/sells-group/docflow/internal/registry"
	"github.com/sells-group/docflow/internal/store"
)

// openStore constructs the configured store backend and runs migrations.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docflow.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	zap.L().Info("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

func dialTemporal(cfg *config.Config) (client.Client, error) {
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return tc, nil
}

func connectBus(ctx context.Context, cfg *config.Config) (*bus.Bus, error) {
	return bus.Connect(ctx, cfg.NATS.URL)
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Load(cfg.Registry.Path)
}

// pipelineSettings maps pipeline config onto the scheduling settings new
// workflow executions start with.
func pipelineSettings(cfg *config.Config) coordinator.Settings {
	return coordinator.Settings{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MaxAttempts:         cfg.Pipeline.MaxAttempts,
		BackoffBase:         time.Duration(cfg.Pipeline.BackoffBaseSecs) * time.Second,
		BackoffMultiplier:   cfg.Pipeline.BackoffMultiplier,
		Timeout:             cfg.Pipeline.Timeout(),
	}
}
