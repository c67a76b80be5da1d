package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Database    *DBConfig
	Service     *ServiceConfig
	Railway     *RailwayConfig
	Deploy      *DeployConfig
	HealthCheck *HealthCheckConfig
}

type DBConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"instance-manager"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASS"`
}

type ServiceConfig struct {
	Address       string `envconfig:"SVC_ADDRESS" default:":8080"`
	LogLevel      string `envconfig:"SVC_LOG_LEVEL" default:"info"`
	EncryptionKey string `envconfig:"SVC_ENCRYPTION_KEY" required:"true"`
}

// RailwayConfig holds the credentials for the Railway GraphQL API.
// All three identifiers are mandatory; the client refuses to construct
// without them.
type RailwayConfig struct {
	Token         string `envconfig:"RAILWAY_TOKEN" required:"true"`
	ProjectID     string `envconfig:"RAILWAY_PROJECT_ID" required:"true"`
	EnvironmentID string `envconfig:"RAILWAY_ENVIRONMENT_ID" required:"true"`
}

// DeployConfig tunes the orchestrator's polling and retry behavior.
// Defaults match production; tests shrink them.
type DeployConfig struct {
	Image               string        `envconfig:"DEPLOY_IMAGE" default:"ghcr.io/botforge-cloud/agent-runtime:latest"`
	PollInterval        time.Duration `envconfig:"DEPLOY_POLL_INTERVAL" default:"3s"`
	PollTimeout         time.Duration `envconfig:"DEPLOY_POLL_TIMEOUT" default:"120s"`
	CooldownMaxElapsed  time.Duration `envconfig:"DEPLOY_COOLDOWN_MAX_ELAPSED" default:"180s"`
	CooldownBackoffStep time.Duration `envconfig:"DEPLOY_COOLDOWN_BACKOFF_STEP" default:"5s"`
	CooldownBackoffMax  time.Duration `envconfig:"DEPLOY_COOLDOWN_BACKOFF_MAX" default:"20s"`
	PropagationDelay    time.Duration `envconfig:"DEPLOY_PROPAGATION_DELAY" default:"5s"`
}

type HealthCheckConfig struct {
	Enabled  bool          `envconfig:"HEALTHCHECK_ENABLED" default:"true"`
	Interval time.Duration `envconfig:"HEALTHCHECK_INTERVAL" default:"60s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Type != "pgsql" && cfg.Database.Type != "sqlite" {
		log.Printf("WARNING: invalid DB_TYPE %q, defaulting to sqlite", cfg.Database.Type)
		cfg.Database.Type = "sqlite"
	}
	return cfg, nil
}
