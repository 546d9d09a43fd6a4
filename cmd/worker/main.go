package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/reid/internal/app"
	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/jobs"
	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/observability"
	"github.com/your-org/reid/internal/queue"
	"github.com/your-org/reid/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, ctx, stop := app.Boot(*configPath)
	defer stop()

	slog.Info("starting reid worker",
		"workers", cfg.Worker.Count,
		"cache_mode", cfg.Cache.Mode,
		"cache_backend", cfg.Cache.Backend,
	)

	backends, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("connect backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	mode := cluster.ParseCacheMode(cfg.Cache.Mode)
	cache, err := storage.NewMatrixCache(cfg.Cache, backends.Objects)
	if err != nil {
		slog.Warn("co-occurrence cache disabled", "error", err)
		mode = cluster.CacheOff
	}
	runner := jobs.NewRunner(backends.Objects, backends.DB, backends.Producer, cache, cfg.Clustering, mode)

	err = backends.Consumer.ConsumeJobs(ctx, "reid-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.JobMessage
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			// A message that cannot be decoded never will be.
			slog.Error("decode job message", "subject", msg.Subject(), "error", err)
			return nil
		}
		if err := runner.Process(ctx, job); err != nil {
			return fmt.Errorf("process job %s: %w", job.JobID, err)
		}
		return nil
	}, cfg.Worker.Count)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	go serveMetrics(fmt.Sprintf(":%d", cfg.Worker.MetricsPort))
	go reportQueueDepth(ctx, backends.Producer, 10*time.Second)

	<-ctx.Done()
	slog.Info("shutting down worker")
	// Let in-flight handlers notice the cancellation and nak their jobs.
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	slog.Info("worker metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server", "error", err)
	}
}

func reportQueueDepth(ctx context.Context, p *queue.Producer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.QueueDepth(ctx)
			if err != nil {
				slog.Debug("queue depth", "error", err)
				continue
			}
			observability.QueueDepth.Set(float64(depth))
		}
	}
}
