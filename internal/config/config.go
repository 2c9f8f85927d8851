package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Push providers.
const (
	PushSNS = "sns"
	PushLog = "log"
)

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"ENV" envDefault:"development"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"bloodlink"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"bloodlink"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	DBMaxConns int32  `env:"DB_MAX_CONNS" envDefault:"20"`

	// MongoDB
	MongoURL      string `env:"MONGODB_URL" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"bloodlink"`

	// Redis config
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// AWS Services
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpoint string `env:"AWS_ENDPOINT_URL"` // LocalStack

	SNSPlatformApplicationARN string `env:"SNS_PLATFORM_APPLICATION_ARN"`
	SQSTokenHealthQueueURL    string `env:"SQS_TOKEN_HEALTH_QUEUE_URL"`

	// Push dispatch
	PushProvider         string        `env:"PUSH_PROVIDER" envDefault:"log"`
	PushParallelism      int           `env:"PUSH_PARALLELISM" envDefault:"4"`
	PushBreakerFailures  int           `env:"PUSH_BREAKER_FAILURES" envDefault:"5"`
	PushBreakerOpenFor   time.Duration `env:"PUSH_BREAKER_OPEN_FOR" envDefault:"30s"`
	SubmitTimeout        time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"30s"`
	TokenAuditBatchSize  int32         `env:"TOKEN_AUDIT_BATCH_SIZE" envDefault:"10"`
	TokenAuditRetryAfter int32         `env:"TOKEN_AUDIT_RETRY_AFTER" envDefault:"30"`
}

// Load reads a .env file if one exists, then the environment.
func Load() (*Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q: must be postgres or mongo", c.StoreBackend))
	}

	switch c.PushProvider {
	case PushLog:
	case PushSNS:
		if c.SNSPlatformApplicationARN == "" {
			errs = append(errs, errors.New("SNS_PLATFORM_APPLICATION_ARN is required when PUSH_PROVIDER=sns"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid PUSH_PROVIDER %q: must be sns or log", c.PushProvider))
	}

	if c.PushParallelism < 1 {
		errs = append(errs, errors.New("PUSH_PARALLELISM must be at least 1"))
	}

	return errors.Join(errs...)
}
