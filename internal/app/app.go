// Package app wires a loaded config.Config into the concrete components a
// storage lifecycle daemon needs to run a sweep: backend connectors, the
// policy engine, the Postgres catalog store, and the lifecycle Manager.
// Grounded on dittofs's pkg/config.InitializeRegistry, which performs the
// same kind of config-to-live-objects construction for its store registry.
package app

import (
	"context"
	"fmt"

	"github.com/AnzeLovse/resolwe/internal/config"
	"github.com/AnzeLovse/resolwe/internal/logger"
	"github.com/AnzeLovse/resolwe/pkg/backend"
	"github.com/AnzeLovse/resolwe/pkg/backend/gcs"
	"github.com/AnzeLovse/resolwe/pkg/backend/local"
	"github.com/AnzeLovse/resolwe/pkg/backend/s3"
	"github.com/AnzeLovse/resolwe/pkg/catalog"
	catalogerrors "github.com/AnzeLovse/resolwe/pkg/catalog/errors"
	"github.com/AnzeLovse/resolwe/pkg/catalog/postgres"
	"github.com/AnzeLovse/resolwe/pkg/lifecycle"
	"github.com/AnzeLovse/resolwe/pkg/metrics"
	"github.com/AnzeLovse/resolwe/pkg/policy"

	"cloud.google.com/go/storage"
)

// App holds the fully wired components a running daemon needs.
type App struct {
	Store    *postgres.Store
	Registry *backend.Registry
	Manager  *lifecycle.Manager
}

// Build constructs every component from cfg. The returned App's Store must
// be closed by the caller.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := postgres.New(ctx, postgres.Config{DSN: cfg.Database.DSN, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("catalog store: %w", err)
	}

	connectors, err := buildConnectors(ctx, cfg.Backends)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("backend connectors: %w", err)
	}
	registry := backend.NewRegistry(connectors...)

	backendConfigs := make(map[string]catalog.BackendConfig, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backendConfigs[b.Name] = catalog.BackendConfig{
			Name:     b.Name,
			Priority: b.Priority,
			Copy:     b.Copy.ToPolicyRule(),
			Delete:   b.Delete.ToPolicyRule(),
		}
	}

	engine := policy.New(store, backendConfigs, nil)

	manager := lifecycle.New(store, registry, engine, connectors, metrics.NewLifecycleMetrics(), lifecycle.Config{Interval: cfg.Sweep.Interval})
	manager.WithTransferMetrics(metrics.NewTransferMetrics())

	return &App{Store: store, Registry: registry, Manager: manager}, nil
}

func buildConnectors(ctx context.Context, backends []config.BackendConfigYAML) ([]backend.Connector, error) {
	var gcsClient *storage.Client

	connectors := make([]backend.Connector, 0, len(backends))
	for _, b := range backends {
		conn, err := buildConnector(ctx, b, &gcsClient)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", b.Name, err)
		}
		connectors = append(connectors, conn)
	}
	return connectors, nil
}

func buildConnector(ctx context.Context, b config.BackendConfigYAML, gcsClient **storage.Client) (backend.Connector, error) {
	switch b.Kind {
	case "local":
		basePath, _ := b.Connection["base_path"].(string)
		if basePath == "" {
			return nil, catalogerrors.NewConfigError("local backend requires connection.base_path")
		}
		return local.New(local.DefaultConfig(b.Name, basePath, b.Priority))

	case "s3":
		cfg := s3.Config{
			BackendName:    b.Name,
			PriorityN:      b.Priority,
			Bucket:         stringField(b.Connection, "bucket"),
			KeyPrefix:      stringField(b.Connection, "key_prefix"),
			Region:         stringField(b.Connection, "region"),
			Endpoint:       stringField(b.Connection, "endpoint"),
			AccessKeyID:    stringField(b.Connection, "access_key_id"),
			SecretKey:      stringField(b.Connection, "secret_key"),
			ForcePathStyle: boolField(b.Connection, "force_path_style"),
		}
		if cfg.Bucket == "" {
			return nil, catalogerrors.NewConfigError("s3 backend requires connection.bucket")
		}
		return s3.New(ctx, cfg)

	case "gcs":
		if *gcsClient == nil {
			client, err := storage.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("gcs client: %w", err)
			}
			*gcsClient = client
		}
		cfg := gcs.Config{
			BackendName: b.Name,
			PriorityN:   b.Priority,
			Bucket:      stringField(b.Connection, "bucket"),
			KeyPrefix:   stringField(b.Connection, "key_prefix"),
		}
		if cfg.Bucket == "" {
			return nil, catalogerrors.NewConfigError("gcs backend requires connection.bucket")
		}
		return gcs.New(ctx, *gcsClient, cfg)

	default:
		return nil, catalogerrors.NewConfigError(fmt.Sprintf("unknown backend kind %q", b.Kind))
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// InitLogger configures the global structured logger from cfg, matching
// dittofs's InitLogger helper.
func InitLogger(cfg *config.Config) {
	logger.Init(cfg.LoggerConfig())
}
