package config

const (
	EnvPrefix = "FOODDASH"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	SchedulerStoreMemory = "memory"
	SchedulerStoreRedis  = "redis"

	EnvAppEnv   = "FOODDASH_APP_ENV"
	EnvPort     = "FOODDASH_APP_PORT"
	EnvDBDSN    = "FOODDASH_DB_DSN"
	EnvDBHost   = "FOODDASH_DB_HOST"
	EnvDBUser   = "FOODDASH_DB_USER"
	EnvDBName   = "FOODDASH_DB_NAME"
	EnvRedisURL = "FOODDASH_REDIS_URL"
	EnvUseSQL   = "FOODDASH_USE_SQLITE"

	EnvAllocationMethod               = "FOODDASH_ALLOCATION_DEFAULT_METHOD"
	EnvAllocationResponseTimeout      = "FOODDASH_ALLOCATION_RESPONSE_TIMEOUT"
	EnvAllocationSearchRadius         = "FOODDASH_ALLOCATION_SEARCH_RADIUS_METERS"
	EnvAllocationEscalationMultiplier = "FOODDASH_ALLOCATION_ESCALATION_RADIUS_MULTIPLIER"
	EnvAllocationAcceptanceGrace      = "FOODDASH_ALLOCATION_ACCEPTANCE_GRACE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
