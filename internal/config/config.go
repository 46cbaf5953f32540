package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port     string `mapstructure:"port"`
		Env      string `mapstructure:"env"`
		GRPCPort string `mapstructure:"grpc_port"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled      bool   `mapstructure:"enabled"`
		Brokers      string `mapstructure:"brokers"`
		AccountTopic string `mapstructure:"account_topic"`
		ScanTopic    string `mapstructure:"scan_topic"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"api_key"`
		WebhookSecret string `mapstructure:"webhook_secret"`
		Prices        struct {
			Pro        string `mapstructure:"pro"`
			Business   string `mapstructure:"business"`
			Enterprise string `mapstructure:"enterprise"`
		} `mapstructure:"prices"`
	} `mapstructure:"stripe"`
	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
	Cron struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"cron"`
	Quota struct {
		// Считать ли упавшие сканы в дневной/пожизненный лимит
		CountFailedScans bool   `mapstructure:"count_failed_scans"`
		Timezone         string `mapstructure:"timezone"`
	} `mapstructure:"quota"`
	Trial struct {
		DurationDays int `mapstructure:"duration_days"`
	} `mapstructure:"trial"`
	Scanner struct {
		ChromePath     string `mapstructure:"chrome_path"`
		AxeScriptPath  string `mapstructure:"axe_script_path"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"scanner"`
	RateLimit struct {
		RPS   float64 `mapstructure:"rps"`
		Burst int     `mapstructure:"burst"`
	} `mapstructure:"ratelimit"`
	Scheduler struct {
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"scheduler"`

	// TrialDurationExplicit = длительность триала задана явно (env или файл), а не взята по умолчанию
	TrialDurationExplicit bool `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.grpc_port", "9090")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.account_topic", "a11y.account-events")
	v.SetDefault("kafka.scan_topic", "a11y.scan-events")

	v.SetDefault("stripe.api_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.prices.pro", "")
	v.SetDefault("stripe.prices.business", "")
	v.SetDefault("stripe.prices.enterprise", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("cron.secret", "")

	v.SetDefault("quota.count_failed_scans", true)
	v.SetDefault("quota.timezone", "UTC")

	v.SetDefault("trial.duration_days", 7)

	v.SetDefault("scanner.chrome_path", "")
	v.SetDefault("scanner.axe_script_path", "assets/axe.min.js")
	v.SetDefault("scanner.timeout_seconds", 30)

	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 5)

	v.SetDefault("scheduler.concurrency", 4)
}

// LoadConfig загружает конфигурацию из .env, необязательного config.yml и переменных окружения.
// Переменные окружения имеют вид SECTION_KEY (APP_PORT, DATABASE_DSN, STRIPE_PRICES_PRO).
func LoadConfig(envPath string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" && envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // Чтение переменных окружения

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.TrialDurationExplicit = v.InConfig("trial.duration_days") || os.Getenv("TRIAL_DURATION_DAYS") != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	if c.App.Port == "" {
		return errors.New("config: app.port is required")
	}
	if c.Trial.DurationDays <= 0 {
		return fmt.Errorf("config: trial.duration_days must be positive, got %d", c.Trial.DurationDays)
	}
	if c.Scanner.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: scanner.timeout_seconds must be positive, got %d", c.Scanner.TimeoutSeconds)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("config: invalid quota.timezone %q: %w", c.Quota.Timezone, err)
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return errors.New("config: auth.jwt_secret is required in production")
		}
		if c.Cron.Secret == "" {
			return errors.New("config: cron.secret is required in production")
		}
	}
	return nil
}

// IsProduction сообщает, запущен ли сервис в production окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Location возвращает каноническую таймзону для границ суток.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TrialDuration возвращает длительность триала.
func (c *Config) TrialDuration() time.Duration {
	return time.Duration(c.Trial.DurationDays) * 24 * time.Hour
}

// ScanTimeout возвращает ограничение на один скан.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scanner.TimeoutSeconds) * time.Second
}

// KafkaBrokers разбирает список брокеров через запятую.
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
