// Package app wires the backing services shared by the API and the worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/your-org/reid/internal/config"
	"github.com/your-org/reid/internal/observability"
	"github.com/your-org/reid/internal/queue"
	"github.com/your-org/reid/internal/storage"
)

// Backends holds the connections a service runs on.
type Backends struct {
	DB       *storage.PostgresStore
	Objects  *storage.MinIOStore
	Producer *queue.Producer
	Consumer *queue.Consumer
}

// Open connects to Postgres, MinIO and NATS and makes sure the schema, the
// bucket and the streams exist. Schema failures are fatal; a missing bucket
// or stream is only logged because another service may still be creating it.
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		b.Close()
		return nil, err
	}

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("postgres: %w", err))
	}
	b.DB = db
	if err := db.EnsureSchema(ctx); err != nil {
		return fail(fmt.Errorf("schema: %w", err))
	}

	if b.Objects, err = storage.NewMinIOStore(cfg.MinIO); err != nil {
		return fail(fmt.Errorf("minio: %w", err))
	}
	if err := b.Objects.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure bucket", "bucket", cfg.MinIO.Bucket, "error", err)
	}

	if b.Producer, err = queue.NewProducer(cfg.NATS.URL); err != nil {
		return fail(fmt.Errorf("nats producer: %w", err))
	}
	if err := b.Producer.EnsureStreams(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return fail(err)
		}
		slog.Warn("ensure streams", "error", err)
	}
	if b.Consumer, err = queue.NewConsumer(cfg.NATS.URL); err != nil {
		return fail(fmt.Errorf("nats consumer: %w", err))
	}
	return b, nil
}

// Close releases whatever Open managed to connect.
func (b *Backends) Close() {
	if b.Consumer != nil {
		b.Consumer.Close()
	}
	if b.Producer != nil {
		b.Producer.Close()
	}
	if b.DB != nil {
		b.DB.Close()
	}
}

// Boot loads the config, installs the logger and returns a context that is
// cancelled on SIGINT or SIGTERM. Config errors end the process with exit 1.
func Boot(configPath string) (*config.Config, context.Context, context.CancelFunc) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return cfg, ctx, stop
}
