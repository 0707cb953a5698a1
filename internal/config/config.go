// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the /v1 routes.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StorageConfig selects the entity store backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	Lang              string        `mapstructure:"lang"`
	CookieFile        string        `mapstructure:"cookie_file"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	LoginURL          string        `mapstructure:"login_url"`
	ImageHosts        []string      `mapstructure:"image_hosts"`
	NavigateQPS       float64       `mapstructure:"navigate_qps"`
}

// CrawlConfig governs one crawl run.
type CrawlConfig struct {
	StartURLs []string `mapstructure:"start_urls"`
	// SubjectID names a contributor to crawl; launched jobs receive it
	// through the environment.
	SubjectID        string        `mapstructure:"subject_id"`
	JobType          string        `mapstructure:"job_type"`
	Budget           time.Duration `mapstructure:"budget"`
	MaxPages         int           `mapstructure:"max_pages"`
	MaxDepth         int           `mapstructure:"max_depth"`
	WriteConcurrency int           `mapstructure:"write_concurrency"`
	FollowUp         bool          `mapstructure:"follow_up"`
	QueueDepth       int           `mapstructure:"queue_depth"`
}

// HarvestConfig tunes the incremental list harvester.
type HarvestConfig struct {
	RefreshEvery      int           `mapstructure:"refresh_every"`
	MaxScrollAttempts int           `mapstructure:"max_scroll_attempts"`
	MaxItemAttempts   int           `mapstructure:"max_item_attempts"`
	ItemBackoff       time.Duration `mapstructure:"item_backoff"`
	RecoverBackoff    time.Duration `mapstructure:"recover_backoff"`
}

// BatchConfig tunes the batch guard.
type BatchConfig struct {
	// StaleAfter treats older in_progress entries as abandoned. Zero never
	// does.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// TriggerConfig selects how follow-up jobs are launched.
type TriggerConfig struct {
	Backend string       `mapstructure:"backend"`
	Exec    ExecConfig   `mapstructure:"exec"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	AMQP    AMQPConfig   `mapstructure:"amqp"`
}

// ExecConfig configures child-process launches.
type ExecConfig struct {
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
}

// PubSubConfig holds the Pub/Sub topic for launch requests.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AMQPConfig holds the RabbitMQ exchange for launch requests.
type AMQPConfig struct {
	URL             string `mapstructure:"url"`
	Exchange        string `mapstructure:"exchange"`
	RoutingKey      string `mapstructure:"routing_key"`
	DeclareTopology bool   `mapstructure:"declare_topology"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Launched jobs clear inherited start URLs with an empty variable.
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table_prefix", "google-map-contrib_")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.lang", "ja")
	v.SetDefault("browser.cookie_file", "storageState.json")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.login_timeout", "30m")
	v.SetDefault("browser.login_url", "https://www.google.com/maps")
	v.SetDefault("browser.image_hosts", []string{
		"lh3.googleusercontent.com",
		"lh5.googleusercontent.com",
		"streetviewpixels-pa.googleapis.com",
	})
	v.SetDefault("browser.navigate_qps", 0.5)
	v.SetDefault("crawl.start_urls", []string{})
	v.SetDefault("crawl.subject_id", "")
	v.SetDefault("crawl.job_type", "")
	v.SetDefault("crawl.budget", "6h")
	v.SetDefault("crawl.max_pages", 20)
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.write_concurrency", 8)
	v.SetDefault("crawl.follow_up", false)
	v.SetDefault("crawl.queue_depth", 1024)
	v.SetDefault("harvest.refresh_every", 40)
	v.SetDefault("harvest.max_scroll_attempts", 10)
	v.SetDefault("harvest.max_item_attempts", 3)
	v.SetDefault("harvest.item_backoff", "1s")
	v.SetDefault("harvest.recover_backoff", "5s")
	v.SetDefault("batch.stale_after", "0s")
	v.SetDefault("trigger.backend", "log")
	v.SetDefault("trigger.exec.binary", "")
	v.SetDefault("trigger.exec.args", []string{"crawl"})
	v.SetDefault("trigger.pubsub.project_id", "")
	v.SetDefault("trigger.pubsub.topic_name", "")
	v.SetDefault("trigger.amqp.url", "")
	v.SetDefault("trigger.amqp.exchange", "crawler")
	v.SetDefault("trigger.amqp.routing_key", "contrib-graph.job.requested.v1")
	v.SetDefault("trigger.amqp.declare_topology", false)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Crawl.Budget <= 0 {
		return fmt.Errorf("crawl.budget must be > 0")
	}
	if c.Crawl.MaxPages < 0 || c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_pages and crawl.max_depth must be >= 0")
	}
	if c.Crawl.WriteConcurrency <= 0 {
		return fmt.Errorf("crawl.write_concurrency must be > 0")
	}
	if c.Crawl.JobType != "" {
		if _, err := graph.ParseJobType(c.Crawl.JobType); err != nil {
			return fmt.Errorf("crawl.job_type: %w", err)
		}
	}
	if c.Harvest.RefreshEvery <= 0 || c.Harvest.MaxItemAttempts <= 0 {
		return fmt.Errorf("harvest.refresh_every and harvest.max_item_attempts must be > 0")
	}
	if c.Browser.NavigateQPS < 0 {
		return fmt.Errorf("browser.navigate_qps must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	switch c.Trigger.Backend {
	case "log", "noop", "exec":
	case "pubsub":
		if c.Trigger.PubSub.ProjectID == "" || c.Trigger.PubSub.TopicName == "" {
			return fmt.Errorf("trigger.pubsub.project_id and topic_name are required")
		}
	case "amqp":
		if c.Trigger.AMQP.URL == "" {
			return fmt.Errorf("trigger.amqp.url is required")
		}
	default:
		return fmt.Errorf("trigger.backend %q is not supported", c.Trigger.Backend)
	}
	return nil
}

// Targets returns the configured start URLs plus the review list of
// crawl.subject_id when set.
func (c Config) Targets() []string {
	out := make([]string, 0, len(c.Crawl.StartURLs)+1)
	for _, u := range c.Crawl.StartURLs {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	if id := strings.TrimSpace(c.Crawl.SubjectID); id != "" {
		out = append(out, graph.ContributorReviewsURL(id))
	}
	return out
}
