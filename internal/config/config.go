// Package config loads orderflow settings from defaults, an optional YAML
// file, ORDERFLOW_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// ORDERFLOW_STORE_BACKEND.
const EnvPrefix = "ORDERFLOW"

// Config is the full process configuration.
type Config struct {
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"http"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Store struct {
		Backend       string `mapstructure:"backend"` // memory, sqlite, postgres, redis, mongo
		SQLitePath    string `mapstructure:"sqlite_path"`
		PostgresDSN   string `mapstructure:"postgres_dsn"`
		RedisAddr     string `mapstructure:"redis_addr"`
		MongoURI      string `mapstructure:"mongo_uri"`
		MongoDatabase string `mapstructure:"mongo_database"`
	} `mapstructure:"store"`

	Queue struct {
		Backend    string `mapstructure:"backend"` // none, memory, sqlite, postgres, redis, mongo
		Capacity   int    `mapstructure:"capacity"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"queue"`

	Workers int `mapstructure:"workers"`

	Workflow struct {
		Timeout        time.Duration `mapstructure:"timeout"`
		DefinitionFile string        `mapstructure:"definition_file"`
		ExpireInterval time.Duration `mapstructure:"expire_interval"`
	} `mapstructure:"workflow"`

	Notify struct {
		Backend string `mapstructure:"backend"` // none, log, nats, redis
		Topic   string `mapstructure:"topic"`
		NATSURL string `mapstructure:"nats_url"`
	} `mapstructure:"notify"`

	Items struct {
		TableName string `mapstructure:"table_name"`
		Driver    string `mapstructure:"dsn_driver"`
		DSN       string `mapstructure:"dsn"`
	} `mapstructure:"items"`

	Objects struct {
		BucketName string `mapstructure:"bucket_name"`
		Root       string `mapstructure:"root"`
	} `mapstructure:"objects"`
}

// Options controls where Load reads from.
type Options struct {
	// File is an explicit config file. When empty, "orderflow.yaml" is
	// searched in the working directory and /etc/orderflow; a missing file
	// is not an error.
	File string

	// Flags are bound by their key name with dots and underscores replaced
	// by dashes, e.g. --store-backend for store.backend.
	Flags *pflag.FlagSet

	// Fs replaces the OS filesystem, mainly for tests.
	Fs afero.Fs
}

var validBackends = map[string][]string{
	"store.backend":  {"memory", "sqlite", "postgres", "redis", "mongo"},
	"queue.backend":  {"none", "memory", "sqlite", "postgres", "redis", "mongo"},
	"notify.backend": {"none", "log", "nats", "redis"},
	"log.format":     {"text", "json"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "orderflow.db")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "orderflow")

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.sqlite_path", "orderflow-queue.db")

	v.SetDefault("workers", 4)

	v.SetDefault("workflow.timeout", 5*time.Minute)
	v.SetDefault("workflow.definition_file", "")
	v.SetDefault("workflow.expire_interval", time.Minute)

	v.SetDefault("notify.backend", "log")
	v.SetDefault("notify.topic", "orders.executions")
	v.SetDefault("notify.nats_url", "nats://localhost:4222")

	v.SetDefault("items.table_name", "orders")
	v.SetDefault("items.dsn_driver", "sqlite")
	v.SetDefault("items.dsn", "orderflow.db")

	v.SetDefault("objects.bucket_name", "invoices")
	v.SetDefault("objects.root", "data")
}

// Load resolves the configuration described by opts.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	if opts.Fs != nil {
		v.SetFs(opts.Fs)
	}
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("orderflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/orderflow")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range v.AllKeys() {
		name := flagName(key)
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func flagName(key string) string {
	return strings.NewReplacer(".", "-", "_", "-").Replace(key)
}

// Validate checks enumerated settings and the values their backends need.
func (c *Config) Validate() error {
	values := map[string]string{
		"store.backend":  c.Store.Backend,
		"queue.backend":  c.Queue.Backend,
		"notify.backend": c.Notify.Backend,
		"log.format":     c.Log.Format,
	}
	for key, value := range values {
		if !slices.Contains(validBackends[key], value) {
			return fmt.Errorf("config: %s must be one of %s, got %q",
				key, strings.Join(validBackends[key], ", "), value)
		}
	}

	switch {
	case (c.Store.Backend == "postgres" || c.Queue.Backend == "postgres") && c.Store.PostgresDSN == "":
		return errors.New("config: store.postgres_dsn is required for the postgres store and queue")
	case c.Workers < 0:
		return errors.New("config: workers must not be negative")
	case c.Queue.Backend != "none" && c.Workers == 0:
		return errors.New("config: a task queue needs at least one worker")
	case c.Workflow.Timeout <= 0:
		return errors.New("config: workflow.timeout must be positive")
	case c.Items.TableName == "":
		return errors.New("config: items.table_name is required")
	case c.Objects.BucketName == "":
		return errors.New("config: objects.bucket_name is required")
	}
	return nil
}
