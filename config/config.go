package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App        AppConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	SMTP       SMTPConfig
	Firebase   FirebaseConfig
	Priority   PriorityConfig
	Outbox     OutboxConfig
	Withdrawal WithdrawalConfig
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, using process environment")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Mongo.resolveURI(cfg.App.IsDev()); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env         string `envconfig:"ENV" default:"production"`
	Port        string `envconfig:"PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"vipo-backend"`
	CORSOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "dev")
}

type MongoConfig struct {
	URI       string `envconfig:"MONGO_URI"`
	LegacyURI string `envconfig:"MONGODB_URI"`
	Database  string `envconfig:"DB_NAME" default:"vipo"`
	// Transactions requires a replica set deployment.
	Transactions   bool          `envconfig:"MONGO_TRANSACTIONS" default:"false"`
	ConnectTimeout time.Duration `envconfig:"MONGO_CONNECT_TIMEOUT" default:"10s"`
}

func (m *MongoConfig) resolveURI(dev bool) error {
	if m.URI == "" {
		m.URI = m.LegacyURI
	}
	if m.URI == "" {
		if !dev {
			return fmt.Errorf("MONGO_URI or MONGODB_URI environment variable is required for production")
		}
		m.URI = "mongodb://localhost:27017"
	}
	return nil
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"10"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type JWTConfig struct {
	Secret string `envconfig:"JWT_SECRET" required:"true"`
}

type RateLimitConfig struct {
	AdminLimit  int           `envconfig:"RATE_LIMIT_ADMIN_LIMIT" default:"120"`
	AdminWindow time.Duration `envconfig:"RATE_LIMIT_ADMIN_WINDOW" default:"1m"`
	AgentLimit  int           `envconfig:"RATE_LIMIT_WITHDRAWALS_LIMIT" default:"10"`
	AgentWindow time.Duration `envconfig:"RATE_LIMIT_WITHDRAWALS_WINDOW" default:"1m"`
}

type SMTPConfig struct {
	Host string `envconfig:"SMTP_HOST"`
	Port int    `envconfig:"SMTP_PORT" default:"2525"`
	User string `envconfig:"SMTP_USER"`
	Pass string `envconfig:"SMTP_PASS"`
	From string `envconfig:"FROM_EMAIL"`
}

func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.User != "" && s.Pass != "" && s.Sender() != ""
}

func (s SMTPConfig) Sender() string {
	if s.From != "" {
		return s.From
	}
	return s.User
}

type FirebaseConfig struct {
	CredentialsBase64 string `envconfig:"FIREBASE_CREDENTIALS_BASE64"`
	CredentialsFile   string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
	ProjectID         string `envconfig:"FIREBASE_PROJECT_ID"`
}

func (f FirebaseConfig) Configured() bool {
	return f.CredentialsBase64 != "" || f.CredentialsFile != ""
}

type PriorityConfig struct {
	BaseURL      string        `envconfig:"PRIORITY_BASE_URL"`
	CompanyCode  string        `envconfig:"PRIORITY_COMPANY_CODE"`
	ClientID     string        `envconfig:"PRIORITY_CLIENT_ID"`
	ClientSecret string        `envconfig:"PRIORITY_CLIENT_SECRET"`
	Timeout      time.Duration `envconfig:"PRIORITY_TIMEOUT" default:"45s"`
	Retries      uint64        `envconfig:"PRIORITY_RETRIES" default:"3"`
}

// Configured reports whether the payout gateway has everything it needs.
func (p PriorityConfig) Configured() bool {
	return len(p.Missing()) == 0
}

func (p PriorityConfig) Missing() []string {
	var missing []string
	if p.BaseURL == "" {
		missing = append(missing, "PRIORITY_BASE_URL")
	}
	if p.CompanyCode == "" {
		missing = append(missing, "PRIORITY_COMPANY_CODE")
	}
	if p.ClientID == "" {
		missing = append(missing, "PRIORITY_CLIENT_ID")
	}
	if p.ClientSecret == "" {
		missing = append(missing, "PRIORITY_CLIENT_SECRET")
	}
	return missing
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"5s"`
	BatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"20"`
	MaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"5"`
	LockTimeout  time.Duration `envconfig:"OUTBOX_LOCK_TIMEOUT" default:"2m"`
}

type WithdrawalConfig struct {
	MinAmount float64 `envconfig:"MIN_WITHDRAWAL_AMOUNT" default:"1"`
}
