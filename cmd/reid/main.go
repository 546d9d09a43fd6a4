// Command reid merges tracker tracklets into identity clusters.
//
//	reid [flags] INPUT OUTPUT N_CLUSTERS [MAX_COMMON_FRAMES]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/your-org/reid/internal/arrays"
	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/config"
	"github.com/your-org/reid/internal/observability"
	"github.com/your-org/reid/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	minTrackLength := flag.Int("min-track-length", 0, "drop tracks with fewer detections (default from config)")
	maxIterations := flag.Int("max-iterations", 0, "k-means iteration cap (default from config)")
	cacheFlag := flag.String("cache", "", "co-occurrence cache mode: off, reuse or refresh")
	cacheDir := flag.String("cache-dir", "", "directory for cached co-occurrence matrices")
	strict := flag.Bool("strict", false, "fail when k-means does not converge")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: %s [flags] INPUT OUTPUT N_CLUSTERS [MAX_COMMON_FRAMES]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	observability.SetupLogger(cfg.Logging.Level, "text")

	args := flag.Args()
	if len(args) < 3 || len(args) > 4 {
		flag.Usage()
		os.Exit(2)
	}
	input, output := args[0], args[1]
	nClusters, err := strconv.Atoi(args[2])
	if err != nil || nClusters < 1 {
		fmt.Fprintf(os.Stderr, "N_CLUSTERS must be a positive integer, got %q\n", args[2])
		os.Exit(2)
	}
	maxCommon := cfg.Clustering.MaxCommonFrames
	if len(args) == 4 {
		maxCommon, err = strconv.Atoi(args[3])
		if err != nil || maxCommon < 0 {
			fmt.Fprintf(os.Stderr, "MAX_COMMON_FRAMES must be a non-negative integer, got %q\n", args[3])
			os.Exit(2)
		}
	}

	if *minTrackLength > 0 {
		cfg.Clustering.MinTrackLength = *minTrackLength
	}
	if *maxIterations > 0 {
		cfg.Clustering.MaxIterations = *maxIterations
	}
	if *cacheDir != "" {
		cfg.Cache.Dir = *cacheDir
		cfg.Cache.Backend = "file"
	}
	if *cacheFlag != "" {
		switch *cacheFlag {
		case "off", "reuse", "refresh":
			cfg.Cache.Mode = *cacheFlag
		default:
			fmt.Fprintf(os.Stderr, "-cache must be off, reuse or refresh, got %q\n", *cacheFlag)
			os.Exit(2)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, input, output, nClusters, maxCommon, !*strict); err != nil {
		stage := "io"
		var se *cluster.StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		slog.Error("reid failed", "stage", stage, "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg *config.Config, input, output string, nClusters, maxCommon int, acceptNonConverged bool) error {
	start := time.Now()

	dets, err := arrays.ReadDetectionsFile(input)
	if err != nil {
		return err
	}

	mode := cluster.ParseCacheMode(cfg.Cache.Mode)
	var cache cluster.MatrixCache
	if mode != cluster.CacheOff {
		cache, err = newCache(ctx, cfg)
		if err != nil {
			slog.Warn("co-occurrence cache unavailable, computing without it", "error", err)
			mode = cluster.CacheOff
		}
	}

	out, err := cluster.Run(ctx, dets, cluster.Options{
		NClusters:          nClusters,
		MaxCommonFrames:    maxCommon,
		MinTrackLength:     cfg.Clustering.MinTrackLength,
		MaxIterations:      cfg.Clustering.MaxIterations,
		AcceptNonConverged: acceptNonConverged && cfg.Clustering.AcceptsNonConverged(),
		CacheMode:          mode,
		Cache:              cache,
	})
	if err != nil {
		return err
	}

	if err := arrays.WriteRowsFile(output, out.Rows); err != nil {
		return err
	}

	slog.Info("wrote clustered detections",
		"output", output,
		"rows", len(out.Rows),
		"tracks", out.Index.Len(),
		"k_effective", out.KEffective,
		"clusters", out.Result.K(),
		"status", out.Result.Status.String(),
		"cache_hit", out.CacheHit,
		"elapsed", time.Since(start).String(),
	)
	return nil
}

func newCache(ctx context.Context, cfg *config.Config) (cluster.MatrixCache, error) {
	var store *storage.MinIOStore
	if cfg.Cache.Backend == "minio" {
		var err error
		if store, err = storage.NewMinIOStore(cfg.MinIO); err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return storage.NewMatrixCache(cfg.Cache, store)
}
