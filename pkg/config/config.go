package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/angelmondragon/fulfillment-core/pkg/enums"
)

const (
	EnvPrefix = "fulfillment"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "FULFILLMENT_DB_DSN"
	EnvDBHost = "FULFILLMENT_DB_HOST"
	EnvDBUser = "FULFILLMENT_DB_USER"
	EnvDBName = "FULFILLMENT_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Saga         SagaConfig
	Activities   ActivitiesConfig
	LoadBalancer LoadBalancerConfig
	Discovery    DiscoveryConfig
	Eventing     EventingConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.LoadBalancer.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" default:"8090"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"saga-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FULFILLMENT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"FULFILLMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FULFILLMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic      string `envconfig:"FULFILLMENT_PUBSUB_ORDERS_TOPIC" required:"true"`
	SagaSubscription string `envconfig:"FULFILLMENT_PUBSUB_SAGA_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FULFILLMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FULFILLMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type SagaConfig struct {
	MaxActivityAttempts int           `envconfig:"FULFILLMENT_SAGA_MAX_ACTIVITY_ATTEMPTS" default:"5"`
	RetryBaseBackoff    time.Duration `envconfig:"FULFILLMENT_SAGA_RETRY_BASE_BACKOFF" default:"2s"`
	RetryMaxBackoff     time.Duration `envconfig:"FULFILLMENT_SAGA_RETRY_MAX_BACKOFF" default:"1m"`
	SweepIntervalMS     int           `envconfig:"FULFILLMENT_SAGA_SWEEP_INTERVAL_MS" default:"1000"`
	SweepBatchSize      int           `envconfig:"FULFILLMENT_SAGA_SWEEP_BATCH_SIZE" default:"20"`
	StuckThreshold      time.Duration `envconfig:"FULFILLMENT_SAGA_STUCK_THRESHOLD" default:"2m"`
	ConflictRetries     int           `envconfig:"FULFILLMENT_SAGA_CONFLICT_RETRIES" default:"3"`
}

type ActivitiesConfig struct {
	InventoryService string        `envconfig:"FULFILLMENT_ACTIVITIES_INVENTORY_SERVICE" default:"inventory-service"`
	PaymentService   string        `envconfig:"FULFILLMENT_ACTIVITIES_PAYMENT_SERVICE" default:"payment-service"`
	RequestTimeout   time.Duration `envconfig:"FULFILLMENT_ACTIVITIES_REQUEST_TIMEOUT" default:"10s"`
}

type LoadBalancerConfig struct {
	Strategy string `envconfig:"FULFILLMENT_LB_STRATEGY" default:"round-robin"`
}

// ParsedStrategy resolves the configured strategy name once at startup.
func (lb LoadBalancerConfig) ParsedStrategy() enums.LoadBalancerStrategy {
	parsed, err := enums.ParseLoadBalancerStrategy(lb.Strategy)
	if err != nil {
		return enums.StrategyRoundRobin
	}
	return parsed
}

func (lb LoadBalancerConfig) validate() error {
	if _, err := enums.ParseLoadBalancerStrategy(lb.Strategy); err != nil {
		return err
	}
	return nil
}

type DiscoveryConfig struct {
	Namespace   string        `envconfig:"FULFILLMENT_DISCOVERY_NAMESPACE" default:"fulfillment"`
	InstanceTTL time.Duration `envconfig:"FULFILLMENT_DISCOVERY_INSTANCE_TTL" default:"30s"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"FULFILLMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
