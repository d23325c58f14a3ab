// Package config defines configuration parsing and startup validation.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable recognized by the talos workers, sourced from
// environment variables per spec.md §6.
type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"dev"`
	ComponentName string `env:"COMPONENT_NAME" envDefault:"talos"`

	// Database
	DBURL            string `env:"DB_URL,required"`
	TableSubscriptions string `env:"TABLE_SUBSCRIPTIONS" envDefault:"subscriptions"`
	TableRescans       string `env:"TABLE_RESCANS" envDefault:"subreddit_rescans"`
	TableInitialPosts  string `env:"TABLE_INITIAL_POSTS" envDefault:"initial_posts"`
	TablePostRescans   string `env:"TABLE_POST_RESCANS" envDefault:"post_rescans"`
	TableUpdatedPosts  string `env:"TABLE_UPDATED_POSTS" envDefault:"updated_posts"`
	TableComments      string `env:"TABLE_SCRAPED_COMMENTS" envDefault:"scraped_comments"`

	// Broker
	BrokerHost     string `env:"BROKER_HOST,required"`
	BrokerPort     int    `env:"BROKER_PORT" envDefault:"5672"`
	BrokerUser     string `env:"BROKER_USER" envDefault:"guest"`
	BrokerPassword string `env:"BROKER_PASSWORD" envDefault:"guest"`
	BrokerExchange string `env:"BROKER_EXCHANGE" envDefault:"talos.direct"`
	QueueCommunityRescan string `env:"QUEUE_COMMUNITY_RESCAN" envDefault:"community.rescan"`
	QueuePostRescan      string `env:"QUEUE_POST_RESCAN" envDefault:"post.rescan"`

	// Upstream API / HTTP client
	UpstreamBaseURL  string        `env:"UPSTREAM_BASE_URL,required"`
	UpstreamHomeURL  string        `env:"UPSTREAM_HOME_URL,required"`
	UserAgent        string        `env:"HTTP_USER_AGENT" envDefault:"talos/1.0"`
	RequestsPerToken int           `env:"REQUESTS_PER_TOKEN" envDefault:"60"`
	MaxPostsPerRequest int         `env:"MAX_POSTS_PER_REQUEST" envDefault:"25"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	// Scheduling
	StartupSleep             time.Duration `env:"STARTUP_SLEEP" envDefault:"5s"`
	RescanProducerSleepSecs  time.Duration `env:"RESCAN_PRODUCER_SLEEP_TIME_SECS" envDefault:"30s"`
	TimeBetweenPostRescans   time.Duration `env:"TIME_BETWEEN_POST_RESCANS" envDefault:"2s"`
	MaturityWindow           time.Duration `env:"MATURITY_WINDOW" envDefault:"168h"`

	// Retry
	RetryAttempts       int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	TimeBetweenAttempts time.Duration `env:"TIME_BETWEEN_ATTEMPTS" envDefault:"2s"`
	ExpBackoffMinDelay  time.Duration `env:"EXP_BACKOFF_MIN_DELAY" envDefault:"1s"`
	ExpBackoffMaxDelay  time.Duration `env:"EXP_BACKOFF_MAX_DELAY" envDefault:"30s"`
	ExpBackoffDeadline  time.Duration `env:"EXP_BACKOFF_DEADLINE" envDefault:"3m"`

	// Rate limiting (horizontal scale-out, ambient — see SPEC_FULL.md §2.2)
	RedisURL               string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	UpstreamRatePerMinute  int    `env:"UPSTREAM_RATE_PER_MINUTE" envDefault:"120"`

	// Admin surface
	AdminPort          int    `env:"ADMIN_PORT" envDefault:"8090"`
	MetricsPort        int    `env:"METRICS_PORT" envDefault:"9090"`
	AdminUsername      string `env:"ADMIN_USERNAME"`
	AdminPasswordHash  string `env:"ADMIN_PASSWORD_HASH"`

	// Dev-only subscription seed (internal/platform/seed)
	SubscriptionsSeedFile string `env:"SUBSCRIPTIONS_SEED_FILE"`
}

// IsDev reports whether the process is running in development mode.
func (c Config) IsDev() bool { return strings.EqualFold(c.AppEnv, "dev") }

// IsProd reports whether the process is running in production mode.
func (c Config) IsProd() bool { return strings.EqualFold(c.AppEnv, "prod") }

// IsTest reports whether the process is running under test.
func (c Config) IsTest() bool { return strings.EqualFold(c.AppEnv, "test") }

// AdminAuthEnabled reports whether the admin surface should require basic auth.
func (c Config) AdminAuthEnabled() bool {
	return c.AdminUsername != "" && c.AdminPasswordHash != ""
}

// Load parses environment variables into a Config. It does not validate;
// callers must call Validate explicitly (spec.md §9's "import-time
// validation becomes an explicit validate() call").
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate fails fast if any required string field (isRequiredStringField)
// is empty or any count/port field (isPositiveField) is non-positive. The
// optional strings (admin credentials, Redis URL, seed file) may be empty,
// and duration fields are not checked.
func Validate(cfg Config) error {
	v := reflect.ValueOf(cfg)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if _, ok := f.Tag.Lookup("env"); !ok {
			continue
		}
		val := v.Field(i)
		switch val.Kind() {
		case reflect.String:
			if val.String() == "" && isRequiredStringField(f.Name) {
				return fmt.Errorf("op=config.Validate: required field %s is empty", f.Name)
			}
		case reflect.Int, reflect.Int64:
			if val.Int() <= 0 && isPositiveField(f.Name) {
				return fmt.Errorf("op=config.Validate: field %s must be positive", f.Name)
			}
		}
	}
	if err := validate.Struct(requiredView{
		DBURL:           cfg.DBURL,
		BrokerHost:      cfg.BrokerHost,
		UpstreamBaseURL: cfg.UpstreamBaseURL,
		UpstreamHomeURL: cfg.UpstreamHomeURL,
	}); err != nil {
		return fmt.Errorf("op=config.Validate: %w", err)
	}
	return nil
}

// requiredView carries the handful of fields that have no sensible default
// and so must always be supplied, validated with go-playground/validator's
// `required` tag rather than a hand-rolled emptiness check.
type requiredView struct {
	DBURL           string `validate:"required"`
	BrokerHost      string `validate:"required"`
	UpstreamBaseURL string `validate:"required,url"`
	UpstreamHomeURL string `validate:"required,url"`
}

func isRequiredStringField(name string) bool {
	switch name {
	case "DBURL", "BrokerHost", "UpstreamBaseURL", "UpstreamHomeURL",
		"TableSubscriptions", "TableRescans", "TableInitialPosts",
		"TablePostRescans", "TableUpdatedPosts", "TableComments",
		"BrokerExchange", "QueueCommunityRescan", "QueuePostRescan",
		"UserAgent", "ComponentName", "AppEnv":
		return true
	default:
		return false
	}
}

func isPositiveField(name string) bool {
	switch name {
	case "RequestsPerToken", "MaxPostsPerRequest", "RetryAttempts",
		"BrokerPort", "AdminPort", "MetricsPort", "UpstreamRatePerMinute":
		return true
	default:
		return false
	}
}
