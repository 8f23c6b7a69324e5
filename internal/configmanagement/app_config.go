package configmanagement

import (
	"errors"
	"flag"
	"os"
	"strconv"

	"asr-eval-driver/internal/objectstore"
)

// AppConfig holds process-level settings shared by the CLI subcommands.
// Environment variables provide defaults and flags override them.
type AppConfig struct {
	ConfigFile  string
	LogLevel    string
	OutputDir   string
	MetricsFile string
	DatabaseURL string
	ListenAddr  string
	APIKey      string
	Minio       objectstore.Config
}

// GetEnv returns the environment variable or def when it is unset or empty.
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(GetEnv(key, strconv.FormatBool(def))); err == nil {
		return b
	}
	return def
}

// BindFlags loads env defaults and registers the flags on fs.
func (c *AppConfig) BindFlags(fs *flag.FlagSet) {
	c.ConfigFile = GetEnv("EVAL_CONFIG", "eval.yaml")
	c.LogLevel = GetEnv("LOG_LEVEL", "info")
	c.OutputDir = GetEnv("EVAL_OUTPUT_DIR", "")
	c.MetricsFile = GetEnv("EVAL_METRICS_FILE", "")
	c.DatabaseURL = GetEnv("DATABASE_URL", "")
	c.ListenAddr = GetEnv("EVAL_LISTEN_ADDR", "127.0.0.1:8080")
	c.APIKey = GetEnv("EVAL_API_KEY", "")
	c.Minio.Endpoint = GetEnv("MINIO_ENDPOINT", "")
	c.Minio.AccessKeyID = GetEnv("MINIO_ACCESS_KEY_ID", "")
	c.Minio.SecretAccessKey = GetEnv("MINIO_SECRET_ACCESS_KEY", "")
	c.Minio.BucketName = GetEnv("MINIO_BUCKET_NAME", "")
	c.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", false)
	c.Minio.Prefix = GetEnv("MINIO_PREFIX", "evaluations")

	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "run config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "override the run config output directory")
	fs.StringVar(&c.MetricsFile, "metrics-file", c.MetricsFile, "write Prometheus metrics to this textfile after the run")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "Postgres DSN for job and result persistence")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "HTTP listen address for serve")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "bearer key required by the job API")
	fs.StringVar(&c.Minio.Endpoint, "minio-endpoint", c.Minio.Endpoint, "MinIO endpoint for artifact upload")
	fs.StringVar(&c.Minio.BucketName, "minio-bucket", c.Minio.BucketName, "MinIO bucket for artifacts")
	fs.StringVar(&c.Minio.Prefix, "minio-prefix", c.Minio.Prefix, "object key prefix for artifacts")
	fs.BoolVar(&c.Minio.UseSSL, "minio-ssl", c.Minio.UseSSL, "use TLS for MinIO")
}

// ApplyTo lets process-level overrides win over the run config file.
func (c *AppConfig) ApplyTo(run *RunConfig) {
	if c.OutputDir != "" {
		run.OutputDir = c.OutputDir
	}
}

// LoadExecSettings reads the decoder, scorer command and output directory that
// serve applies to every job submitted over the API. A missing config file
// leaves the commands empty; an output directory is always required.
func (c *AppConfig) LoadExecSettings() (ExecSettings, error) {
	var exec ExecSettings
	if c.ConfigFile != "" {
		cfg, err := Load(c.ConfigFile)
		switch {
		case err == nil:
			exec = cfg.ExecSettings()
		case errors.Is(err, os.ErrNotExist):
		default:
			return ExecSettings{}, err
		}
	}
	if c.OutputDir != "" {
		exec.OutputDir = c.OutputDir
	}
	if exec.OutputDir == "" {
		return ExecSettings{}, errors.New("no output directory: set -output-dir or output_dir in the config file")
	}
	return exec, nil
}
