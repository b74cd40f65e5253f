// Package config provides configuration management for aicg using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultPresignTTL      = time.Hour
	defaultPollInterval    = time.Second
	defaultLockTimeout     = 30 * time.Minute
	defaultSweepMinBackoff = 5 * time.Second
	defaultSweepMaxBackoff = 60 * time.Second
	defaultJobTTLSuccess   = 14 * 24 * time.Hour
	defaultJobTTLFailure   = 90 * 24 * time.Hour
)

// Default per-kind worker concurrency caps.
const (
	DefaultConcurrencyText        = 3
	DefaultConcurrencyImage       = 5
	DefaultConcurrencyTTS         = 5
	DefaultConcurrencyVideoSubmit = 5
	DefaultConcurrencyAssembly    = 1
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Blob     BlobConfig     `mapstructure:"blob"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Assembly AssemblyConfig `mapstructure:"assembly"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// QueueConfig holds task broker configuration.
type QueueConfig struct {
	// URL is a redis connection URL, e.g. redis://localhost:6379/0.
	URL string `mapstructure:"url"`
	// Namespace prefixes all queue keys.
	Namespace string `mapstructure:"namespace"`
	// VisibilityTimeout is how long a dequeued task stays invisible before
	// stale-lock recovery re-delivers it.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// BlobConfig holds S3-compatible object store configuration.
type BlobConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key" masq:"secret"`
	Bucket     string        `mapstructure:"bucket"`
	Region     string        `mapstructure:"region"`
	Secure     bool          `mapstructure:"secure"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// WorkerConfig holds task worker configuration.
type WorkerConfig struct {
	// Kinds restricts which task kinds this worker consumes (empty = all).
	Kinds []string `mapstructure:"kinds"`
	// Concurrency maps task kind to its cap; unset kinds use defaults.
	Concurrency  map[string]int `mapstructure:"concurrency"`
	PollInterval time.Duration  `mapstructure:"poll_interval"`
	LockTimeout  time.Duration  `mapstructure:"lock_timeout"`
	// JobTTLSuccess / JobTTLFailure control the TTL sweep of terminal jobs.
	JobTTLSuccess time.Duration `mapstructure:"job_ttl_success"`
	JobTTLFailure time.Duration `mapstructure:"job_ttl_failure"`
}

// ConcurrencyFor returns the cap for a task kind, applying the
// WORKER_CONCURRENCY_<KIND> override and built-in defaults.
func (c *WorkerConfig) ConcurrencyFor(kind string) int {
	if env := os.Getenv("WORKER_CONCURRENCY_" + strings.ToUpper(kind)); env != "" {
		if n, err := strconv.Atoi(env); err == nil && n > 0 {
			return n
		}
	}
	if n, ok := c.Concurrency[kind]; ok && n > 0 {
		return n
	}
	switch kind {
	case "text":
		return DefaultConcurrencyText
	case "image":
		return DefaultConcurrencyImage
	case "tts":
		return DefaultConcurrencyTTS
	case "video_submit":
		return DefaultConcurrencyVideoSubmit
	case "video_poll":
		return 0 // unbounded
	case "assembly":
		return DefaultConcurrencyAssembly
	default:
		return 1
	}
}

// SweeperConfig holds provider polling sweeper configuration.
type SweeperConfig struct {
	// MinInterval is the initial per-task poll interval.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// MaxInterval caps the per-task exponential backoff.
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path"`  // empty = auto-detect
}

// AssemblyConfig holds video assembly configuration.
type AssemblyConfig struct {
	// ScratchDir is the parent for per-run scratch directories.
	ScratchDir string `mapstructure:"scratch_dir"`
	// DownloadConcurrency bounds parallel clip downloads.
	DownloadConcurrency int `mapstructure:"download_concurrency"`
	// CRF is the x264 quality factor for the final encode.
	CRF int `mapstructure:"crf"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with AICG_ (AICG_SERVER_PORT=8080). The well-known unprefixed
// variables (DATABASE_URL, QUEUE_URL, BLOB_*, FFMPEG_PATH, LOG_LEVEL) are
// also recognized and take precedence over the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/aicg")
		v.AddConfigPath("$HOME/.aicg")
	}

	v.SetEnvPrefix("AICG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	bindWellKnownEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// bindWellKnownEnv maps the conventional deployment environment variables
// onto config keys.
func bindWellKnownEnv(v *viper.Viper) {
	set := func(key, env string) {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	set("database.dsn", "DATABASE_URL")
	set("queue.url", "QUEUE_URL")
	set("blob.endpoint", "BLOB_ENDPOINT")
	set("blob.access_key", "BLOB_ACCESS_KEY")
	set("blob.secret_key", "BLOB_SECRET_KEY")
	set("blob.bucket", "BLOB_BUCKET")
	set("ffmpeg.binary_path", "FFMPEG_PATH")
	set("logging.level", "LOG_LEVEL")
	if val := os.Getenv("BLOB_SECURE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			v.Set("blob.secure", b)
		}
	}
	// DATABASE_URL carrying a scheme implies the driver.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		switch {
		case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
			v.Set("database.driver", "postgres")
		case strings.HasPrefix(dsn, "mysql://"):
			v.Set("database.driver", "mysql")
			v.Set("database.dsn", strings.TrimPrefix(dsn, "mysql://"))
		}
	}
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "aicg.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("queue.url", "redis://localhost:6379/0")
	v.SetDefault("queue.namespace", "aicg")
	v.SetDefault("queue.visibility_timeout", defaultLockTimeout)

	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("blob.secure", true)
	v.SetDefault("blob.presign_ttl", defaultPresignTTL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("worker.poll_interval", defaultPollInterval)
	v.SetDefault("worker.lock_timeout", defaultLockTimeout)
	v.SetDefault("worker.job_ttl_success", defaultJobTTLSuccess)
	v.SetDefault("worker.job_ttl_failure", defaultJobTTLFailure)

	v.SetDefault("sweeper.min_interval", defaultSweepMinBackoff)
	v.SetDefault("sweeper.max_interval", defaultSweepMaxBackoff)

	v.SetDefault("assembly.scratch_dir", os.TempDir())
	v.SetDefault("assembly.download_concurrency", 5)
	v.SetDefault("assembly.crf", 18)
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or mysql, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Queue.URL == "" {
		return errors.New("queue.url is required")
	}
	if c.Assembly.DownloadConcurrency < 1 {
		return fmt.Errorf("assembly.download_concurrency must be at least 1, got %d", c.Assembly.DownloadConcurrency)
	}
	if c.Assembly.CRF < 0 || c.Assembly.CRF > 51 {
		return fmt.Errorf("assembly.crf must be between 0 and 51, got %d", c.Assembly.CRF)
	}
	if c.Sweeper.MinInterval > c.Sweeper.MaxInterval {
		return errors.New("sweeper.min_interval must not exceed sweeper.max_interval")
	}
	return nil
}
