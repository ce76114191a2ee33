package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "FAULTLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv      = "FAULTLINE_APP_ENV"
	EnvPort        = "FAULTLINE_APP_PORT"
	EnvDBDSN       = "FAULTLINE_DB_DSN"
	EnvDBHost      = "FAULTLINE_DB_HOST"
	EnvDBUser      = "FAULTLINE_DB_USER"
	EnvDBName      = "FAULTLINE_DB_NAME"
	EnvRedisURL    = "FAULTLINE_REDIS_URL"
	EnvGCPProject  = "FAULTLINE_GCP_PROJECT_ID"
	EnvGCSBucket   = "FAULTLINE_GCS_BUCKET_NAME"
	EnvEventsTopic = "FAULTLINE_PUBSUB_EVENTS_TOPIC"
	EnvEventsSub   = "FAULTLINE_PUBSUB_EVENTS_SUBSCRIPTION"
	EnvNotifyTopic = "FAULTLINE_PUBSUB_NOTIFICATIONS_TOPIC"
	EnvNotifySub   = "FAULTLINE_PUBSUB_NOTIFICATIONS_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Ingest       IngestConfig
	Pipeline     PipelineConfig
	Notification NotificationConfig
	Mail         MailConfig
	Chat         ChatConfig
	Ops          OpsConfig
	Maintenance  MaintenanceConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FAULTLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"FAULTLINE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"FAULTLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FAULTLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FAULTLINE_SERVICE_KIND" default:"ingest-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"FAULTLINE_DB_DSN"`
	Driver string `envconfig:"FAULTLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FAULTLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"FAULTLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FAULTLINE_DB_USER"`
	LegacyPassword string `envconfig:"FAULTLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"FAULTLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"FAULTLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FAULTLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FAULTLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FAULTLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FAULTLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FAULTLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FAULTLINE_REDIS_ADDR"`
	Password     string        `envconfig:"FAULTLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"FAULTLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FAULTLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FAULTLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FAULTLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FAULTLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FAULTLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FAULTLINE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"FAULTLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FAULTLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"FAULTLINE_GCS_BUCKET_NAME" required:"true"`
}

type PubSubConfig struct {
	EventsTopic               string `envconfig:"FAULTLINE_PUBSUB_EVENTS_TOPIC" required:"true"`
	EventsSubscription        string `envconfig:"FAULTLINE_PUBSUB_EVENTS_SUBSCRIPTION" required:"true"`
	NotificationsTopic        string `envconfig:"FAULTLINE_PUBSUB_NOTIFICATIONS_TOPIC" required:"true"`
	NotificationsSubscription string `envconfig:"FAULTLINE_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" required:"true"`
	StackChangedTopic         string `envconfig:"FAULTLINE_PUBSUB_STACK_CHANGED_TOPIC" default:"fl-stack-changed"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"FAULTLINE_BIGQUERY_DATASET" default:"faultline"`
	IngestStatsTable string `envconfig:"FAULTLINE_BIGQUERY_INGEST_STATS_TABLE" default:"ingest_stats"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"FAULTLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FAULTLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FAULTLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int           `envconfig:"FAULTLINE_OUTBOX_RETENTION_DAYS" default:"14"`
	IdempotencyTTL time.Duration `envconfig:"FAULTLINE_OUTBOX_IDEMPOTENCY_TTL" default:"72h"`
}

type IngestConfig struct {
	MaxPayloadBytes   int64    `envconfig:"FAULTLINE_INGEST_MAX_PAYLOAD_BYTES" default:"1000000"`
	MaxDeliveries     int      `envconfig:"FAULTLINE_INGEST_MAX_DELIVERIES" default:"5"`
	InternalProjectID string   `envconfig:"FAULTLINE_INTERNAL_PROJECT_ID"`
	DisabledPlugins   []string `envconfig:"FAULTLINE_DISABLED_PLUGINS"`
}

type PipelineConfig struct {
	StackChangedDebounce time.Duration `envconfig:"FAULTLINE_STACK_CHANGED_DEBOUNCE" default:"1500ms"`
	SignatureCacheTTL    time.Duration `envconfig:"FAULTLINE_STACK_SIGNATURE_CACHE_TTL" default:"5m"`
}

type NotificationConfig struct {
	StackThrottleWindow  time.Duration `envconfig:"FAULTLINE_NOTIFY_STACK_THROTTLE_WINDOW" default:"30m"`
	StackThrottleTTL     time.Duration `envconfig:"FAULTLINE_NOTIFY_STACK_THROTTLE_TTL" default:"15m"`
	ProjectWindow        time.Duration `envconfig:"FAULTLINE_NOTIFY_PROJECT_WINDOW" default:"30m"`
	ProjectLimit         int64         `envconfig:"FAULTLINE_NOTIFY_PROJECT_LIMIT" default:"10"`
	MaxDeliveries        int           `envconfig:"FAULTLINE_NOTIFY_MAX_DELIVERIES" default:"5"`
	AllowedOutboundAddrs []string      `envconfig:"FAULTLINE_NOTIFY_ALLOWED_OUTBOUND_ADDRESSES"`
}

type MailConfig struct {
	APIBaseURL  string `envconfig:"FAULTLINE_MAIL_API_BASE_URL"`
	APIKey      string `envconfig:"FAULTLINE_MAIL_API_KEY"`
	DefaultFrom string `envconfig:"FAULTLINE_MAIL_FROM_ADDRESS" default:"notifications@faultline.io"`
}

type ChatConfig struct {
	WebhookURL string `envconfig:"FAULTLINE_CHAT_WEBHOOK_URL"`
}

type OpsConfig struct {
	Port           string        `envconfig:"FAULTLINE_OPS_PORT" default:"9090"`
	HealthCacheTTL time.Duration `envconfig:"FAULTLINE_OPS_HEALTH_CACHE_TTL" default:"10s"`
	ProbeTimeout   time.Duration `envconfig:"FAULTLINE_OPS_HEALTH_PROBE_TIMEOUT" default:"5s"`
}

type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"FAULTLINE_MAINTENANCE_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"FAULTLINE_MAINTENANCE_LOCK_TTL" default:"10m"`
	DeadLetterRetention time.Duration `envconfig:"FAULTLINE_MAINTENANCE_DEAD_LETTER_RETENTION" default:"336h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FAULTLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FAULTLINE_AUTO_MIGRATE" default:"false"`
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
