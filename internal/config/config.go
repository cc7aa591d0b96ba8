// Package config loads the coordinator's configuration from a YAML file
// overlaid with environment variables, mirroring core/config/config.py's
// merge precedence: environment beats file, and "__" in an environment key
// separates a path into nested config segments.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is a thin, read-only view over the merged configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configFile (if present) and overlays environment variables.
// A missing config file is not an error: environment variables and
// defaults still apply, matching the Python original's behaviour.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.database", "cti_breach_hunter")
	v.SetDefault("postgres.user", "cti_user")
	v.SetDefault("postgres.password", "cti_password")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)

	v.SetDefault("elasticsearch.host", "localhost")
	v.SetDefault("elasticsearch.port", 9200)
	v.SetDefault("elasticsearch.scheme", "http")
	v.SetDefault("elasticsearch.user", "elastic")
	v.SetDefault("elasticsearch.password", "password")

	v.SetDefault("kafka.bootstrap_servers", "localhost:9092")
	v.SetDefault("kafka.topic", "scraps")
	v.SetDefault("kafka.processed_topic", "processed_topic")

	v.SetDefault("upstream_smb.share", "//upstream-server/scraps")
	v.SetDefault("upstream_smb.username", "upstream_user")
	v.SetDefault("upstream_smb.password", "upstream_password")
	v.SetDefault("upstream_smb.mount_point", "/mnt/upstream_scraps")
	v.SetDefault("upstream_smb.anonymous", false)

	v.SetDefault("local_plugin.enabled", true)
	v.SetDefault("local_plugin.watch_directory", "./data/local_ingest")
	v.SetDefault("local_plugin.processed_directory", "./data/local_ingest_processed")

	v.SetDefault("collecting", true)
	v.SetDefault("processing", true)

	v.SetDefault("collector_concurrency", 10)
	v.SetDefault("processor_concurrency", 100)
	v.SetDefault("polling_interval_seconds", 1)

	v.SetDefault("migrations_dir", "migrations")
}

// Postgres is the merged postgres.* configuration section.
type Postgres struct {
	Database string
	User     string
	Password string
	Host     string
	Port     int
}

func (c *Config) Postgres() Postgres {
	return Postgres{
		Database: c.v.GetString("postgres.database"),
		User:     c.v.GetString("postgres.user"),
		Password: c.v.GetString("postgres.password"),
		Host:     c.v.GetString("postgres.host"),
		Port:     c.v.GetInt("postgres.port"),
	}
}

// Elasticsearch is the merged elasticsearch.* configuration section.
type Elasticsearch struct {
	Host     string
	Port     int
	Scheme   string
	User     string
	Password string
}

func (c *Config) Elasticsearch() Elasticsearch {
	return Elasticsearch{
		Host:     c.v.GetString("elasticsearch.host"),
		Port:     c.v.GetInt("elasticsearch.port"),
		Scheme:   c.v.GetString("elasticsearch.scheme"),
		User:     c.v.GetString("elasticsearch.user"),
		Password: c.v.GetString("elasticsearch.password"),
	}
}

// Bus is the merged kafka.* configuration section (the bus remains
// configured under the "kafka" key for config-format compatibility, even
// though the transport is AMQP; see SPEC_FULL.md §4.7).
type Bus struct {
	BootstrapServers string
	Topic            string
	ProcessedTopic   string
}

func (c *Config) Bus() Bus {
	return Bus{
		BootstrapServers: c.v.GetString("kafka.bootstrap_servers"),
		Topic:            c.v.GetString("kafka.topic"),
		ProcessedTopic:   c.v.GetString("kafka.processed_topic"),
	}
}

// LocalPlugin is the merged local_plugin.* configuration section.
type LocalPlugin struct {
	Enabled            bool
	WatchDirectory     string
	ProcessedDirectory string
}

func (c *Config) LocalPlugin() LocalPlugin {
	return LocalPlugin{
		Enabled:            c.v.GetBool("local_plugin.enabled"),
		WatchDirectory:     c.v.GetString("local_plugin.watch_directory"),
		ProcessedDirectory: c.v.GetString("local_plugin.processed_directory"),
	}
}

func (c *Config) Collecting() bool { return c.v.GetBool("collecting") }
func (c *Config) Processing() bool { return c.v.GetBool("processing") }

func (c *Config) CollectorConcurrency() int { return c.v.GetInt("collector_concurrency") }
func (c *Config) ProcessorConcurrency() int { return c.v.GetInt("processor_concurrency") }
func (c *Config) PollingInterval() int      { return c.v.GetInt("polling_interval_seconds") }
func (c *Config) MigrationsDir() string     { return c.v.GetString("migrations_dir") }

// Get reads an arbitrary key, for plugin-specific configuration sections
// not named above (e.g. per-SMB-server entries).
func (c *Config) Get(key string, fallback any) any {
	if !c.v.IsSet(key) {
		return fallback
	}
	return c.v.Get(key)
}
