package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Settlement   SettlementConfig
	Rates        RatesConfig
	Confirmation ConfirmationConfig
	Agents       AgentsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	} else if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Rates.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"OTCSETTLE_APP_ENV" required:"true"`
	Port         string `envconfig:"OTCSETTLE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"OTCSETTLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"OTCSETTLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"OTCSETTLE_DB_DSN"`
	Driver string `envconfig:"OTCSETTLE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"OTCSETTLE_DB_HOST"`
	Port     int    `envconfig:"OTCSETTLE_DB_PORT" default:"5432"`
	User     string `envconfig:"OTCSETTLE_DB_USER"`
	Password string `envconfig:"OTCSETTLE_DB_PASSWORD"`
	Name     string `envconfig:"OTCSETTLE_DB_NAME"`
	SSLMode  string `envconfig:"OTCSETTLE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"OTCSETTLE_DB_SQLITE_PATH" default:"otcsettle.db"`

	MaxOpenConns    int           `envconfig:"OTCSETTLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OTCSETTLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OTCSETTLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OTCSETTLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"OTCSETTLE_REDIS_URL"`
	Address      string        `envconfig:"OTCSETTLE_REDIS_ADDR"`
	Password     string        `envconfig:"OTCSETTLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"OTCSETTLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OTCSETTLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OTCSETTLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OTCSETTLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OTCSETTLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OTCSETTLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite          bool `envconfig:"OTCSETTLE_USE_SQLITE" default:"false"`
	AutoMigrate        bool `envconfig:"OTCSETTLE_AUTO_MIGRATE" default:"false"`
	RedisConfirmations bool `envconfig:"OTCSETTLE_REDIS_CONFIRMATIONS" default:"true"`
	PublishAudit       bool `envconfig:"OTCSETTLE_PUBLISH_AUDIT" default:"false"`
}

type SettlementConfig struct {
	MinFiat       decimal.Decimal `envconfig:"OTCSETTLE_SETTLEMENT_MIN_FIAT" default:"100"`
	MaxFiat       decimal.Decimal `envconfig:"OTCSETTLE_SETTLEMENT_MAX_FIAT" default:"1000000"`
	DefaultMarkup decimal.Decimal `envconfig:"OTCSETTLE_SETTLEMENT_DEFAULT_MARKUP" default:"0"`
	PayoutPlaces  int32           `envconfig:"OTCSETTLE_SETTLEMENT_PAYOUT_PLACES" default:"4"`
	FiatPlaces    int32           `envconfig:"OTCSETTLE_SETTLEMENT_FIAT_PLACES" default:"2"`
	MaxBatchSize  int             `envconfig:"OTCSETTLE_SETTLEMENT_MAX_BATCH_SIZE" default:"20"`
}

func (s SettlementConfig) validate() error {
	if s.MinFiat.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvSettlementMinFiat)
	}
	if s.MaxFiat.LessThanOrEqual(s.MinFiat) {
		return fmt.Errorf("%s must be greater than %s", EnvSettlementMaxFiat, EnvSettlementMinFiat)
	}
	if s.PayoutPlaces < 0 || s.FiatPlaces < 0 {
		return fmt.Errorf("settlement rounding places must not be negative")
	}
	return nil
}

type RatesConfig struct {
	PrimaryURL    string        `envconfig:"OTCSETTLE_RATES_PRIMARY_URL" default:"https://www.okx.com"`
	FallbackURL   string        `envconfig:"OTCSETTLE_RATES_FALLBACK_URL" default:"https://p2p.binance.com"`
	PaymentMethod string        `envconfig:"OTCSETTLE_RATES_PAYMENT_METHOD" default:"all"`
	FiatCurrency  string        `envconfig:"OTCSETTLE_RATES_FIAT_CURRENCY" default:"CNY"`
	Asset         string        `envconfig:"OTCSETTLE_RATES_ASSET" default:"USDT"`
	MaxQuotes     int           `envconfig:"OTCSETTLE_RATES_MAX_QUOTES" default:"10"`
	Timeout       time.Duration `envconfig:"OTCSETTLE_RATES_TIMEOUT" default:"5s"`
}

func (r RatesConfig) validate() error {
	if strings.TrimSpace(r.PrimaryURL) == "" {
		return fmt.Errorf("%s is required", EnvRatesPrimaryURL)
	}
	if r.MaxQuotes <= 0 {
		return fmt.Errorf("%s must be positive", EnvRatesMaxQuotes)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvRatesTimeout)
	}
	return nil
}

type ConfirmationConfig struct {
	TTL time.Duration `envconfig:"OTCSETTLE_CONFIRMATION_TTL" default:"5m"`
}

type AgentsConfig struct {
	DefaultMethod    string        `envconfig:"OTCSETTLE_AGENTS_DEFAULT_METHOD" default:"smart"`
	AssignmentMaxAge time.Duration `envconfig:"OTCSETTLE_AGENTS_ASSIGNMENT_MAX_AGE" default:"12h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"OTCSETTLE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AuditTopic string `envconfig:"OTCSETTLE_PUBSUB_AUDIT_TOPIC" default:"otc-audit-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"OTCSETTLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"OTCSETTLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"OTCSETTLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"OTCSETTLE_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"OTCSETTLE_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"OTCSETTLE_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
