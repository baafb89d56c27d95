package config

const (
	EnvPrefix = "OTCSETTLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv = "OTCSETTLE_APP_ENV"
	EnvPort   = "OTCSETTLE_APP_PORT"

	EnvDBDSN  = "OTCSETTLE_DB_DSN"
	EnvDBHost = "OTCSETTLE_DB_HOST"
	EnvDBUser = "OTCSETTLE_DB_USER"
	EnvDBName = "OTCSETTLE_DB_NAME"

	EnvUseSQLite = "OTCSETTLE_USE_SQLITE"
	EnvRedisURL  = "OTCSETTLE_REDIS_URL"

	EnvSettlementMinFiat       = "OTCSETTLE_SETTLEMENT_MIN_FIAT"
	EnvSettlementMaxFiat       = "OTCSETTLE_SETTLEMENT_MAX_FIAT"
	EnvSettlementDefaultMarkup = "OTCSETTLE_SETTLEMENT_DEFAULT_MARKUP"

	EnvRatesPrimaryURL = "OTCSETTLE_RATES_PRIMARY_URL"
	EnvRatesMaxQuotes  = "OTCSETTLE_RATES_MAX_QUOTES"
	EnvRatesTimeout    = "OTCSETTLE_RATES_TIMEOUT"

	EnvConfirmationTTL = "OTCSETTLE_CONFIRMATION_TTL"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
