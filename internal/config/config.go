package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Cache      CacheConfig      `yaml:"cache"`
	Worker     WorkerConfig     `yaml:"worker"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ClusteringConfig holds pipeline defaults. Jobs and the CLI may override
// max_common_frames; n_clusters always comes with the job.
type ClusteringConfig struct {
	MaxCommonFrames    int   `yaml:"max_common_frames"`
	MinTrackLength     int   `yaml:"min_track_length"`
	MaxIterations      int   `yaml:"max_iterations"`
	AcceptNonConverged *bool `yaml:"accept_non_converged"`
}

// AcceptsNonConverged reports the accept_non_converged setting, true when
// unset.
func (c ClusteringConfig) AcceptsNonConverged() bool {
	return c.AcceptNonConverged == nil || *c.AcceptNonConverged
}

type CacheConfig struct {
	Mode    string `yaml:"mode"`    // off, reuse, refresh
	Backend string `yaml:"backend"` // file, minio
	Dir     string `yaml:"dir"`
	Prefix  string `yaml:"prefix"`
}

type WorkerConfig struct {
	Count       int `yaml:"count"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

// Default returns a config built from environment overrides and defaults
// only, for runs without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "reid"
	}
	if cfg.Clustering.MinTrackLength == 0 {
		cfg.Clustering.MinTrackLength = 10
	}
	if cfg.Clustering.MaxIterations == 0 {
		cfg.Clustering.MaxIterations = 300
	}
	if cfg.Cache.Mode == "" {
		cfg.Cache.Mode = "reuse"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "file"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = ".cache/cooccurrence"
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "cooccurrence/"
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 1
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 8082
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REID_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REID_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("REID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("REID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("REID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("REID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("REID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("REID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("REID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("REID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("REID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("REID_MAX_COMMON_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clustering.MaxCommonFrames = n
		}
	}
	if v := os.Getenv("REID_CACHE_MODE"); v != "" {
		cfg.Cache.Mode = v
	}
	if v := os.Getenv("REID_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("REID_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v := os.Getenv("REID_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
