package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      struct {
		Port            int           `yaml:"port" default:"8000" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Source struct {
		Type    string `yaml:"type" default:"yahoo" validate:"oneof=yahoo csv clickhouse"`
		Symbol  string `yaml:"symbol" default:"^NSEI" validate:"required"`
		CSVPath string `yaml:"csv_path" default:"data/nifty_5m.csv"`
		Table   string `yaml:"table" default:"candles"`
		Yahoo   struct {
			BaseURL     string        `yaml:"base_url" default:"https://query1.finance.yahoo.com" validate:"url"`
			Range       string        `yaml:"range" default:"60d"`
			Interval    string        `yaml:"interval" default:"5m" validate:"oneof=1m 5m 15m 1h 1d"`
			Timeout     time.Duration `yaml:"timeout" default:"10s"`
			MaxFailures uint32        `yaml:"max_failures" default:"5"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"yahoo"`
	} `yaml:"source"`
	Pipeline struct {
		FastSpan         int     `yaml:"fast_span" default:"9"`
		SlowSpan         int     `yaml:"slow_span" default:"21"`
		VolatilityWindow int     `yaml:"volatility_window" default:"20"`
		MomentumWindow   int     `yaml:"momentum_window" default:"14"`
		BandWindow       int     `yaml:"band_window" default:"20"`
		BandDeviations   float64 `yaml:"band_deviations" default:"2"`
		InitialCapital   float64 `yaml:"initial_capital" default:"100000"`
		NStates          int     `yaml:"n_states" default:"3"`
		TradeCounting    string  `yaml:"trade_counting" default:"legs" validate:"oneof=legs events"`
		OutlierThreshold float64 `yaml:"outlier_threshold" default:"2"`
		ReuseModel       bool    `yaml:"reuse_model"`
		// RegimeFallback labels every row with FallbackRegime when the fit fails.
		RegimeFallback bool `yaml:"regime_fallback"`
		FallbackRegime int  `yaml:"fallback_regime"`
		Regime         struct {
			Scale    float64 `yaml:"scale" default:"100"`
			MinCovar float64 `yaml:"min_covar" default:"0.001"`
			MaxIter  int     `yaml:"max_iter" default:"100"`
			Tol      float64 `yaml:"tol" default:"0.01"`
			Seed     int64   `yaml:"seed" default:"42"`
		} `yaml:"regime"`
	} `yaml:"pipeline"`
	Store struct {
		Results  string `yaml:"results" default:"memory" validate:"oneof=memory clickhouse"`
		Models   string `yaml:"models" default:"memory" validate:"oneof=memory redis"`
		ModelKey string `yaml:"model_key" default:"niftyquant:regime_model"`
	} `yaml:"store"`
	Serve struct {
		AutoRefresh  bool          `yaml:"auto_refresh" default:"true"`
		Cache        string        `yaml:"cache" default:"memory" validate:"oneof=memory redis"`
		CacheTTL     time.Duration `yaml:"cache_ttl" default:"30s"`
		RefreshRate  float64       `yaml:"refresh_rate" default:"0.2"`
		RefreshBurst int           `yaml:"refresh_burst" default:"2"`
		RunTimeout   time.Duration `yaml:"run_timeout" default:"2m"`
	} `yaml:"serve"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"pipeline.completed"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"niftyquant"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// envOverrides lists the environment variables applied on top of the YAML file.
// Unset variables leave the file value untouched.
type envOverrides struct {
	Environment        string   `envconfig:"APP_ENV"`
	Port               int      `envconfig:"PORT"`
	LogLevel           string   `envconfig:"LOG_LEVEL"`
	Symbol             string   `envconfig:"SYMBOL"`
	Source             string   `envconfig:"SOURCE"`
	CSVPath            string   `envconfig:"CSV_PATH"`
	InitialCapital     float64  `envconfig:"INITIAL_CAPITAL"`
	ResultStore        string   `envconfig:"RESULT_STORE"`
	ModelStore         string   `envconfig:"MODEL_STORE"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string   `envconfig:"KAFKA_TOPIC"`
	RedisAddr          string   `envconfig:"REDIS_ADDR"`
	RedisPassword      string   `envconfig:"REDIS_PASSWORD"`
	ClickHouseHost     string   `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePassword string   `envconfig:"CLICKHOUSE_PASSWORD"`
}

// Default returns a configuration populated from struct defaults only.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load applies defaults and then the YAML file at path. An empty path uses defaults only.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, then a .env file if present, then environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var o envOverrides
	if err := envconfig.Process("", &o); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	c.apply(o)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) apply(o envOverrides) {
	setString(&c.Environment, o.Environment)
	setString(&c.Log.Level, o.LogLevel)
	setString(&c.Source.Symbol, o.Symbol)
	setString(&c.Source.Type, o.Source)
	setString(&c.Source.CSVPath, o.CSVPath)
	setString(&c.Store.Results, o.ResultStore)
	setString(&c.Store.Models, o.ModelStore)
	setString(&c.Kafka.Topic, o.KafkaTopic)
	setString(&c.Redis.Addr, o.RedisAddr)
	setString(&c.Redis.Password, o.RedisPassword)
	setString(&c.ClickHouse.Host, o.ClickHouseHost)
	setString(&c.ClickHouse.Password, o.ClickHousePassword)
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.InitialCapital != 0 {
		c.Pipeline.InitialCapital = o.InitialCapital
	}
	if len(o.KafkaBrokers) > 0 {
		c.Kafka.Brokers = o.KafkaBrokers
		c.Kafka.Enabled = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

var validate = validator.New()

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Source.Type == "csv" && c.Source.CSVPath == "" {
		return fmt.Errorf("source.csv_path is required for csv source")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Pipeline.InitialCapital <= 0 {
		return fmt.Errorf("pipeline.initial_capital must be positive, got %v", c.Pipeline.InitialCapital)
	}
	if c.Pipeline.NStates < 2 {
		return fmt.Errorf("pipeline.n_states must be at least 2, got %d", c.Pipeline.NStates)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Store.Models == "redis" || c.Serve.Cache == "redis"
}

// UsesClickHouse reports whether any component needs a ClickHouse connection.
func (c *Config) UsesClickHouse() bool {
	return c.Source.Type == "clickhouse" || c.Store.Results == "clickhouse"
}
