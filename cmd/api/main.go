package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/reid/internal/api"
	"github.com/your-org/reid/internal/api/ws"
	"github.com/your-org/reid/internal/app"
	"github.com/your-org/reid/internal/models"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, ctx, stop := app.Boot(*configPath)
	defer stop()

	slog.Info("starting reid API service", "port", cfg.Server.Port)

	backends, err := app.Open(ctx, cfg)
	if err != nil {
		slog.Error("connect backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	hub := ws.NewHub()
	go hub.Run()

	// Each API instance needs its own durable to see every result.
	err = backends.Consumer.ConsumeResults(ctx, resultsConsumerName(), func(_ context.Context, msg jetstream.Msg) error {
		var res models.JobResult
		if err := json.Unmarshal(msg.Data(), &res); err != nil {
			slog.Error("decode job result", "subject", msg.Subject(), "error", err)
			return nil
		}
		hub.BroadcastResult(res)
		return nil
	})
	if err != nil {
		slog.Warn("job results will not be pushed", "error", err)
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(api.RouterConfig{
			APIKey:   cfg.Server.APIKey,
			DB:       backends.DB,
			MinIO:    backends.Objects,
			Producer: backends.Producer,
			Hub:      hub,
		}),
		// Uploads and output downloads carry whole arrays.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	slog.Info("API server stopped")
}

func resultsConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "api-results"
	}
	return "api-results-" + strings.NewReplacer(".", "-", "*", "-", ">", "-").Replace(host)
}
