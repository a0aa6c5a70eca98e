package config

// EnvPrefix is handed to envconfig for fields without explicit tags.
const EnvPrefix = "INFINITY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names, kept as constants so tests and deploy
// tooling reference the exact same strings.
const (
	EnvAppEnv   = "INFINITY_APP_ENV"
	EnvPort     = "INFINITY_APP_PORT"
	EnvLogLevel = "INFINITY_LOG_LEVEL"

	EnvDBDSN  = "INFINITY_DB_DSN"
	EnvDBHost = "INFINITY_DB_HOST"
	EnvDBUser = "INFINITY_DB_USER"
	EnvDBName = "INFINITY_DB_NAME"

	EnvRedisURL = "INFINITY_REDIS_URL"

	EnvJWTSecret  = "INFINITY_JWT_SECRET"
	EnvJWTIssuer  = "INFINITY_JWT_ISSUER"
	EnvJWTExpMins = "INFINITY_JWT_EXPIRATION_MINUTES"

	EnvMellatTerminalID = "INFINITY_MELLAT_TERMINAL_ID"
	EnvMellatUsername   = "INFINITY_MELLAT_USERNAME"
	EnvMellatPassword   = "INFINITY_MELLAT_PASSWORD"

	EnvSnappPayBaseURL      = "INFINITY_SNAPPPAY_BASE_URL"
	EnvSnappPayClientID     = "INFINITY_SNAPPPAY_CLIENT_ID"
	EnvSnappPayClientSecret = "INFINITY_SNAPPPAY_CLIENT_SECRET"
	EnvSnappPayUsername     = "INFINITY_SNAPPPAY_USERNAME"
	EnvSnappPayPassword     = "INFINITY_SNAPPPAY_PASSWORD"

	EnvAnipoBaseURL = "INFINITY_ANIPO_BASE_URL"
	EnvAnipoKeyword = "INFINITY_ANIPO_KEYWORD"

	EnvGCPProjectID      = "INFINITY_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic = "INFINITY_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "INFINITY_PUBSUB_ORDERS_SUBSCRIPTION"

	EnvPublicBaseURL = "INFINITY_PUBLIC_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
