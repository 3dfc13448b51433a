// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App        App        `yaml:"app"`
	HTTP       HTTP       `yaml:"http"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Gateway    Gateway    `yaml:"gateway"`
	Checkout   Checkout   `yaml:"checkout"`
	Reconciler Reconciler `yaml:"reconciler"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

type App struct {
	Name     string `yaml:"name" env:"SERVICE_NAME" env-default:"minishop-checkout"`
	Env      string `yaml:"env" env:"ENV" env-default:"dev"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFile  string `yaml:"log_file" env:"LOG_FILE"`
	// SeedDemo loads a small demo catalog into in-memory stores.
	SeedDemo bool `yaml:"seed_demo" env:"SEED_DEMO" env-default:"false"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Postgres with an empty URL selects the in-memory stores.
type Postgres struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
	Migrate  bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

type Redis struct {
	Addr       string        `yaml:"addr" env:"REDIS_ADDR"`
	ProductTTL time.Duration `yaml:"product_ttl" env:"REDIS_PRODUCT_TTL" env-default:"10m"`
	DedupTTL   time.Duration `yaml:"dedup_ttl" env:"REDIS_DEDUP_TTL" env-default:"48h"`
}

type Kafka struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	TopicPrefix string   `yaml:"topic_prefix" env:"KAFKA_TOPIC_PREFIX" env-default:"minishop"`
}

type Gateway struct {
	// Mode is sandbox or http.
	Mode          string        `yaml:"mode" env:"GATEWAY_MODE" env-default:"sandbox"`
	BaseURL       string        `yaml:"base_url" env:"GATEWAY_BASE_URL" env-default:"https://api.moyasar.com/v1"`
	SecretKey     string        `yaml:"secret_key" env:"GATEWAY_SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" env:"GATEWAY_WEBHOOK_SECRET"`
	CallbackURL   string        `yaml:"callback_url" env:"GATEWAY_CALLBACK_URL"`
	Timeout       time.Duration `yaml:"timeout" env:"GATEWAY_TIMEOUT" env-default:"10s"`
}

type Checkout struct {
	Currency     string `yaml:"currency" env:"CHECKOUT_CURRENCY" env-default:"SAR"`
	ShippingRate string `yaml:"shipping_rate" env:"CHECKOUT_SHIPPING_RATE" env-default:"0"`
}

type Reconciler struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m"`
	Lookback      time.Duration `yaml:"lookback" env:"SWEEP_LOOKBACK" env-default:"24h"`
	Grace         time.Duration `yaml:"grace" env:"SWEEP_GRACE" env-default:"30s"`
	StaleAfter    time.Duration `yaml:"stale_after" env:"SWEEP_STALE_AFTER" env-default:"15m"`
	BatchSize     int           `yaml:"batch_size" env:"SWEEP_BATCH_SIZE" env-default:"100"`
	ConfirmTries  uint64        `yaml:"confirm_tries" env:"CONFIRM_RETRIES" env-default:"5"`
}

// Telemetry with an empty endpoint keeps spans in process.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
}

// Load reads .env (if any), then the YAML file at CONFIG_PATH (if any), then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	path := os.Getenv("CONFIG_PATH")
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.Gateway.Mode {
	case "sandbox":
	case "http":
		if c.Gateway.SecretKey == "" {
			return errors.New("config: gateway.secret_key is required in http mode")
		}
	default:
		return fmt.Errorf("config: unknown gateway mode %q", c.Gateway.Mode)
	}
	if _, err := c.Checkout.ShippingAmount(); err != nil {
		return err
	}
	return nil
}

func (c Checkout) ShippingAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.ShippingRate)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: invalid checkout.shipping_rate %q", c.ShippingRate)
	}
	return d, nil
}
