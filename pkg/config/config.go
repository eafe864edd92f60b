package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Allocation   AllocationConfig
	Scheduler    SchedulerConfig
	Sweep        SweepConfig
	Retention    RetentionConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Allocation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FOODDASH_APP_ENV" required:"true"`
	Port         string `envconfig:"FOODDASH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FOODDASH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FOODDASH_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"FOODDASH_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FOODDASH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FOODDASH_DB_DSN"`
	Driver string `envconfig:"FOODDASH_DB_DRIVER" default:"postgres"`

	SQLitePath string `envconfig:"FOODDASH_SQLITE_PATH" default:"fooddash.db"`

	LegacyHost     string `envconfig:"FOODDASH_DB_HOST"`
	LegacyPort     int    `envconfig:"FOODDASH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FOODDASH_DB_USER"`
	LegacyPassword string `envconfig:"FOODDASH_DB_PASSWORD"`
	LegacyName     string `envconfig:"FOODDASH_DB_NAME"`
	LegacySSLMode  string `envconfig:"FOODDASH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FOODDASH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FOODDASH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FOODDASH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FOODDASH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FOODDASH_REDIS_URL"`
	Address      string        `envconfig:"FOODDASH_REDIS_ADDR"`
	Password     string        `envconfig:"FOODDASH_REDIS_PASSWORD"`
	DB           int           `envconfig:"FOODDASH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FOODDASH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FOODDASH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FOODDASH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FOODDASH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FOODDASH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FOODDASH_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FOODDASH_AUTO_MIGRATE" default:"false"`
}

// AllocationConfig drives the delivery-agent allocation engine. Every window and
// radius is configuration so it can be tuned per deployment.
type AllocationConfig struct {
	DefaultMethod              string        `envconfig:"FOODDASH_ALLOCATION_DEFAULT_METHOD" default:"one_by_one"`
	ResponseTimeout            time.Duration `envconfig:"FOODDASH_ALLOCATION_RESPONSE_TIMEOUT" default:"20s"`
	SearchRadiusMeters         float64       `envconfig:"FOODDASH_ALLOCATION_SEARCH_RADIUS_METERS" default:"50000"`
	CandidateLimit             int           `envconfig:"FOODDASH_ALLOCATION_CANDIDATE_LIMIT" default:"10"`
	BroadcastLimit             int           `envconfig:"FOODDASH_ALLOCATION_BROADCAST_LIMIT" default:"500"`
	BroadcastExpiry            time.Duration `envconfig:"FOODDASH_ALLOCATION_BROADCAST_EXPIRY" default:"0s"`
	ConsiderRating             bool          `envconfig:"FOODDASH_ALLOCATION_CONSIDER_RATING" default:"false"`
	AcceptanceGracePeriod      time.Duration `envconfig:"FOODDASH_ALLOCATION_ACCEPTANCE_GRACE" default:"5m"`
	AssignmentGracePeriod      time.Duration `envconfig:"FOODDASH_ALLOCATION_ASSIGNMENT_GRACE" default:"30m"`
	EscalationRadiusMultiplier float64       `envconfig:"FOODDASH_ALLOCATION_ESCALATION_RADIUS_MULTIPLIER" default:"2"`
	SweepBatchSize             int           `envconfig:"FOODDASH_ALLOCATION_SWEEP_BATCH_SIZE" default:"100"`
}

func (a AllocationConfig) validate() error {
	if a.ResponseTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvAllocationResponseTimeout)
	}
	if a.SearchRadiusMeters <= 0 {
		return fmt.Errorf("%s must be positive", EnvAllocationSearchRadius)
	}
	if a.EscalationRadiusMultiplier < 1 {
		return fmt.Errorf("%s must be at least 1", EnvAllocationEscalationMultiplier)
	}
	return nil
}

type SchedulerConfig struct {
	Store        string        `envconfig:"FOODDASH_SCHEDULER_STORE" default:"redis"`
	PollInterval time.Duration `envconfig:"FOODDASH_SCHEDULER_POLL_INTERVAL" default:"250ms"`
	BatchSize    int           `envconfig:"FOODDASH_SCHEDULER_BATCH_SIZE" default:"100"`
	MaxAttempts  int           `envconfig:"FOODDASH_SCHEDULER_MAX_ATTEMPTS" default:"5"`
	RetryBackoff time.Duration `envconfig:"FOODDASH_SCHEDULER_RETRY_BACKOFF" default:"2s"`
	LeaseTTL     time.Duration `envconfig:"FOODDASH_SCHEDULER_LEASE_TTL" default:"30s"`
}

type SweepConfig struct {
	Interval time.Duration `envconfig:"FOODDASH_SWEEP_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"FOODDASH_SWEEP_LOCK_TTL" default:"2m"`
}

// RetentionConfig bounds how long housekeeping rows are kept, in days.
type RetentionConfig struct {
	NotificationDays int `envconfig:"FOODDASH_RETENTION_NOTIFICATION_DAYS" default:"30"`
	OutboxDays       int `envconfig:"FOODDASH_RETENTION_OUTBOX_DAYS" default:"14"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"FOODDASH_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AgentPushTopic string `envconfig:"FOODDASH_PUBSUB_AGENT_PUSH_TOPIC"`
	DomainTopic    string `envconfig:"FOODDASH_PUBSUB_DOMAIN_TOPIC" default:"fd-domain-events"`
}

// Enabled reports whether Pub/Sub hand-off can be used.
func (p PubSubConfig) Enabled(gcp GCPConfig) bool {
	return strings.TrimSpace(gcp.ProjectID) != ""
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FOODDASH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FOODDASH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FOODDASH_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
