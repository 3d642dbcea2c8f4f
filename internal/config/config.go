package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the bridge service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Inference     InferenceConfig     `mapstructure:"inference"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Assets        AssetsConfig        `mapstructure:"assets"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	WriteTimeout          time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// InferenceConfig holds per-model endpoint settings.
type InferenceConfig struct {
	Deplot   ModelEndpointConfig `mapstructure:"deplot"`
	Doughnut ModelEndpointConfig `mapstructure:"doughnut"`
}

// ModelEndpointConfig configure one inference endpoint.
type ModelEndpointConfig struct {
	// Protocol is "grpc" for binary tensor transport or "http" for
	// chat-completion payloads.
	Protocol     string        `mapstructure:"protocol"`
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type ExtractionConfig struct {
	ExtractText   bool   `mapstructure:"extract_text"`
	ExtractTables bool   `mapstructure:"extract_tables"`
	ExtractImages bool   `mapstructure:"extract_images"`
	TextDepth     string `mapstructure:"text_depth"`
	MaxPages      int    `mapstructure:"max_pages"`
}

type AssetsConfig struct {
	Storage       string            `mapstructure:"storage"`
	MaxSizeMB     int               `mapstructure:"max_size_mb"`
	EncryptionKey string            `mapstructure:"encryption_key"`
	S3            AssetsS3Config    `mapstructure:"s3"`
	Local         AssetsLocalConfig `mapstructure:"local"`
}

type AssetsS3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type AssetsLocalConfig struct {
	Directory string `mapstructure:"directory"`
}

type AuthConfig struct {
	// APIKeys holds argon2id-encoded hashes of accepted keys. Empty means
	// authentication is disabled.
	APIKeys []string `mapstructure:"api_keys"`
}

// LimitsConfig caps request volume per API key (or client address when
// authentication is disabled). Zero values disable the corresponding check.
type LimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelIngests   int `mapstructure:"parallel_ingests"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("BRIDGE_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("bridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "BRIDGE_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "BRIDGE_REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}
	if c.Limits.RequestsPerMinute < 0 || c.Limits.ParallelIngests < 0 {
		return fmt.Errorf("limits values must be >= 0")
	}

	if err := c.Inference.Deplot.validate("inference.deplot"); err != nil {
		return err
	}
	if err := c.Inference.Doughnut.validate("inference.doughnut"); err != nil {
		return err
	}
	if err := c.Extraction.validate(); err != nil {
		return err
	}
	if err := c.Assets.validate(); err != nil {
		return err
	}
	return nil
}

func (m *ModelEndpointConfig) validate(section string) error {
	switch m.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("%s.protocol must be grpc or http", section)
	}
	if strings.TrimSpace(m.Endpoint) == "" {
		return fmt.Errorf("%s.endpoint must be provided", section)
	}
	if m.MaxBatchSize <= 0 {
		m.MaxBatchSize = 1
	}
	if m.Timeout <= 0 {
		m.Timeout = 120 * time.Second
	}
	if m.MaxRetries <= 0 {
		m.MaxRetries = 3
	}
	return nil
}

func (e *ExtractionConfig) validate() error {
	switch e.TextDepth {
	case "", "page", "document":
	default:
		return fmt.Errorf("extraction.text_depth must be page or document")
	}
	if e.TextDepth == "" {
		e.TextDepth = "page"
	}
	if e.MaxPages <= 0 {
		e.MaxPages = 256
	}
	return nil
}

func (a *AssetsConfig) validate() error {
	if a.MaxSizeMB <= 0 {
		return fmt.Errorf("assets.max_size_mb must be > 0")
	}
	switch strings.TrimSpace(a.Storage) {
	case "":
		a.Storage = "local"
	case "local", "s3":
	default:
		return fmt.Errorf("assets.storage must be local or s3")
	}
	if a.Storage == "s3" && strings.TrimSpace(a.S3.Bucket) == "" {
		return fmt.Errorf("assets.s3.bucket must be provided when storage is s3")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 64)
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.migrations_dir", "./migrations")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("inference.deplot.protocol", "http")
	v.SetDefault("inference.deplot.model", "google/deplot")
	v.SetDefault("inference.deplot.max_batch_size", 1)
	v.SetDefault("inference.deplot.timeout", "120s")
	v.SetDefault("inference.deplot.max_retries", 3)

	v.SetDefault("inference.doughnut.protocol", "grpc")
	v.SetDefault("inference.doughnut.model", "doughnut")
	v.SetDefault("inference.doughnut.max_batch_size", 4)
	v.SetDefault("inference.doughnut.timeout", "120s")
	v.SetDefault("inference.doughnut.max_retries", 3)

	v.SetDefault("extraction.extract_text", true)
	v.SetDefault("extraction.extract_tables", true)
	v.SetDefault("extraction.extract_images", true)
	v.SetDefault("extraction.text_depth", "page")
	v.SetDefault("extraction.max_pages", 256)

	v.SetDefault("assets.storage", "local")
	v.SetDefault("assets.max_size_mb", 200)
	v.SetDefault("assets.local.directory", "./data/assets")

	v.SetDefault("limits.requests_per_minute", 120)
	v.SetDefault("limits.parallel_ingests", 4)

	v.SetDefault("observability.enable_otlp", true)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
