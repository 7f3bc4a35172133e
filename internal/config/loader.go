package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "POLICITY"

// definition is the raw YAML shape. It is decoded as-is and then
// transformed into the typed Config.
type definition struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`

	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	Quiet     bool   `mapstructure:"quiet"`

	Store struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"store"`

	Orchestrator struct {
		AcceptanceThreshold float64 `mapstructure:"acceptance_threshold"`
		MaxRetries          int     `mapstructure:"max_retries"`
		MaxConcurrentSteps  int     `mapstructure:"max_concurrent_steps"`
		StepTimeout         string  `mapstructure:"step_timeout"`
	} `mapstructure:"orchestrator"`

	LLM struct {
		BaseURL string `mapstructure:"base_url"`
		APIKey  string `mapstructure:"api_key"`
		Model   string `mapstructure:"model"`
		Timeout string `mapstructure:"timeout"`
	} `mapstructure:"llm"`

	FactCache struct {
		Backend       string `mapstructure:"backend"`
		TTL           string `mapstructure:"ttl"`
		Capacity      int    `mapstructure:"capacity"`
		Dir           string `mapstructure:"dir"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
	} `mapstructure:"fact_cache"`

	Facts struct {
		BaseURL string `mapstructure:"base_url"`
		Timeout string `mapstructure:"timeout"`
	} `mapstructure:"facts"`

	Retention struct {
		Days     int    `mapstructure:"days"`
		Schedule string `mapstructure:"schedule"`
	} `mapstructure:"retention"`

	Telemetry struct {
		Endpoint string `mapstructure:"endpoint"`
		Insecure bool   `mapstructure:"insecure"`
	} `mapstructure:"telemetry"`
}

// Loader reads and merges configuration sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	dotenvFile string
	warnings   []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile fixes the configuration file path instead of searching
// the working directory and /etc/policity.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.configFile = path
	}
}

// WithDotenvFile overrides the .env path loaded before anything else.
func WithDotenvFile(path string) LoaderOption {
	return func(l *Loader) {
		l.dotenvFile = path
	}
}

// NewLoader creates a Loader with the given options.
func NewLoader(options ...LoaderOption) *Loader {
	l := &Loader{v: viper.New(), dotenvFile: ".env"}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// envBinding maps one viper key to its environment variable.
type envBinding struct {
	key string
	env string
}

var envBindings = []envBinding{
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "shutdown_timeout", env: "SHUTDOWN_TIMEOUT"},
	{key: "debug", env: "DEBUG"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "quiet", env: "QUIET"},

	{key: "store.driver", env: "STORE_DRIVER"},
	{key: "store.dsn", env: "STORE_DSN"},

	{key: "orchestrator.acceptance_threshold", env: "ACCEPTANCE_THRESHOLD"},
	{key: "orchestrator.max_retries", env: "MAX_RETRIES"},
	{key: "orchestrator.max_concurrent_steps", env: "MAX_CONCURRENT_STEPS"},
	{key: "orchestrator.step_timeout", env: "STEP_TIMEOUT"},

	{key: "llm.base_url", env: "LLM_BASE_URL"},
	{key: "llm.api_key", env: "LLM_API_KEY"},
	{key: "llm.model", env: "LLM_MODEL"},
	{key: "llm.timeout", env: "LLM_TIMEOUT"},

	{key: "fact_cache.backend", env: "FACT_CACHE_BACKEND"},
	{key: "fact_cache.ttl", env: "FACT_CACHE_TTL"},
	{key: "fact_cache.dir", env: "FACT_CACHE_DIR"},
	{key: "fact_cache.redis_addr", env: "FACT_CACHE_REDIS_ADDR"},
	{key: "fact_cache.redis_password", env: "FACT_CACHE_REDIS_PASSWORD"},
	{key: "fact_cache.redis_db", env: "FACT_CACHE_REDIS_DB"},

	{key: "facts.base_url", env: "FACTS_BASE_URL"},
	{key: "facts.timeout", env: "FACTS_TIMEOUT"},

	{key: "retention.days", env: "RETENTION_DAYS"},
	{key: "retention.schedule", env: "RETENTION_SCHEDULE"},

	{key: "telemetry.endpoint", env: "OTLP_ENDPOINT"},
	{key: "telemetry.insecure", env: "OTLP_INSECURE"},
}

// Load reads the .env file, the config file, and the environment, and
// returns the validated Config.
func (l *Loader) Load() (*Config, error) {
	// Original deployments keep the API key in a .env next to the
	// binary. Overload is not used: a variable already exported wins.
	if err := godotenv.Load(l.dotenvFile); err != nil && !os.IsNotExist(err) {
		l.warnings = append(l.warnings, fmt.Sprintf("dotenv %s: %v", l.dotenvFile, err))
	}

	l.configureViper()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// Search mode tolerates a missing file; an explicit --config
		// path that cannot be read is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var def definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := l.build(def)
	cfg.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Warnings = l.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) configureViper() {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/policity")
		l.v.SetConfigName("config")
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()

	for _, b := range envBindings {
		_ = l.v.BindEnv(b.key, EnvPrefix+"_"+b.env)
	}
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("host", "127.0.0.1")
	l.v.SetDefault("port", 8080)
	l.v.SetDefault("shutdown_timeout", "10s")
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("quiet", false)

	l.v.SetDefault("store.driver", StoreMemory)

	l.v.SetDefault("orchestrator.acceptance_threshold", 0.6)
	l.v.SetDefault("orchestrator.max_retries", 2)
	l.v.SetDefault("orchestrator.max_concurrent_steps", 4)
	l.v.SetDefault("orchestrator.step_timeout", "5m")

	l.v.SetDefault("llm.model", "gemini-2.5-flash")
	l.v.SetDefault("llm.timeout", "2m")

	l.v.SetDefault("fact_cache.backend", CacheMemory)
	l.v.SetDefault("fact_cache.ttl", "24h")
	l.v.SetDefault("fact_cache.capacity", 1024)

	l.v.SetDefault("facts.timeout", "30s")

	l.v.SetDefault("retention.days", 30)
	l.v.SetDefault("retention.schedule", "0 3 * * *")
}

func (l *Loader) build(def definition) *Config {
	return &Config{
		Server: Server{
			Host:            def.Host,
			Port:            def.Port,
			AllowedOrigins:  def.AllowedOrigins,
			ShutdownTimeout: l.parseDuration("shutdown_timeout", def.ShutdownTimeout),
		},
		Store: Store{
			Driver: def.Store.Driver,
			DSN:    def.Store.DSN,
		},
		Orchestrator: Orchestrator{
			AcceptanceThreshold: def.Orchestrator.AcceptanceThreshold,
			MaxRetries:          def.Orchestrator.MaxRetries,
			MaxConcurrentSteps:  def.Orchestrator.MaxConcurrentSteps,
			StepTimeout:         l.parseDuration("orchestrator.step_timeout", def.Orchestrator.StepTimeout),
		},
		LLM: LLM{
			BaseURL: def.LLM.BaseURL,
			APIKey:  def.LLM.APIKey,
			Model:   def.LLM.Model,
			Timeout: l.parseDuration("llm.timeout", def.LLM.Timeout),
		},
		FactCache: FactCache{
			Backend:       def.FactCache.Backend,
			TTL:           l.parseDuration("fact_cache.ttl", def.FactCache.TTL),
			Capacity:      def.FactCache.Capacity,
			Dir:           def.FactCache.Dir,
			RedisAddr:     def.FactCache.RedisAddr,
			RedisPassword: def.FactCache.RedisPassword,
			RedisDB:       def.FactCache.RedisDB,
		},
		Facts: Facts{
			BaseURL: def.Facts.BaseURL,
			Timeout: l.parseDuration("facts.timeout", def.Facts.Timeout),
		},
		Retention: Retention{
			Days:     def.Retention.Days,
			Schedule: def.Retention.Schedule,
		},
		Telemetry: Telemetry{
			Endpoint: def.Telemetry.Endpoint,
			Insecure: def.Telemetry.Insecure,
		},
		Logging: Logging{
			Format: def.LogFormat,
			Debug:  def.Debug,
			Quiet:  def.Quiet,
		},
	}
}

// parseDuration parses a duration string, returning zero and recording
// a warning when invalid.
func (l *Loader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("invalid %s value: %s", fieldName, value))
		return 0
	}
	return duration
}

// Load reads configuration with default loader options.
func Load(options ...LoaderOption) (*Config, error) {
	return NewLoader(options...).Load()
}
