// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the master and the worker agent.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPrefix       string        `mapstructure:"redis_prefix"`
	HttpListenAddr    string        `mapstructure:"http_listen_addr"`
	PublicBaseURL     string        `mapstructure:"public_base_url"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl"`

	// Recruitment
	ContactCooldown       time.Duration `mapstructure:"contact_cooldown"`
	ReleaseDelay          time.Duration `mapstructure:"release_delay"`
	RetryImmediate        time.Duration `mapstructure:"retry_immediate"`
	RetryNoCandidate      time.Duration `mapstructure:"retry_no_candidate"`
	RetryOfferOutstanding time.Duration `mapstructure:"retry_offer_outstanding"`
	ScanPageSize          int           `mapstructure:"scan_page_size"`
	CheckpointTTL         time.Duration `mapstructure:"checkpoint_ttl"`
	PresenceTimeout       time.Duration `mapstructure:"presence_timeout"`
	PresenceProbe         bool          `mapstructure:"presence_probe"`
	OfferTTL              time.Duration `mapstructure:"offer_ttl"`

	// Delayed queue runner
	QueuePollSpec   string        `mapstructure:"queue_poll_spec"`
	QueueBatchSize  int           `mapstructure:"queue_batch_size"`
	QueueErrorDelay time.Duration `mapstructure:"queue_error_delay"`
	// QueueVisibility is how long a claimed item stays leased before it is due again.
	QueueVisibility time.Duration `mapstructure:"queue_visibility_timeout"`

	WebhookTimeout   time.Duration `mapstructure:"webhook_timeout"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`

	// Worker agent
	WorkerID         string `mapstructure:"worker_id"`
	WorkerAPIKey     string `mapstructure:"worker_api_key"`
	WorkerAutoAccept bool   `mapstructure:"worker_auto_accept"`
	WorkerGrpcAddr   string `mapstructure:"worker_grpc_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etcd_endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "instawork:")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("leader_election_ttl", "10s")

	v.SetDefault("contact_cooldown", "5m")
	v.SetDefault("release_delay", "1s")
	v.SetDefault("retry_immediate", "0s")
	v.SetDefault("retry_no_candidate", "15s")
	v.SetDefault("retry_offer_outstanding", "30s")
	v.SetDefault("scan_page_size", 20)
	v.SetDefault("checkpoint_ttl", "1h")
	v.SetDefault("presence_timeout", "2s")
	v.SetDefault("presence_probe", true)
	v.SetDefault("offer_ttl", "10m")

	v.SetDefault("queue_poll_spec", "@every 1s")
	v.SetDefault("queue_batch_size", 50)
	v.SetDefault("queue_error_delay", "15s")
	v.SetDefault("queue_visibility_timeout", "2m")

	v.SetDefault("webhook_timeout", "10s")
	v.SetDefault("trace_sample_ratio", 1.0)

	v.SetDefault("worker_id", "")
	v.SetDefault("worker_api_key", "")
	v.SetDefault("worker_auto_accept", false)
	v.SetDefault("worker_grpc_addr", ":50052")
}

// Load loads configuration from file and environment variables. Extra search
// paths are consulted before ./configs and the working directory.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("etcd_endpoints must not be empty")
	}
	if c.ContactCooldown <= 0 {
		return fmt.Errorf("contact_cooldown must be positive, got %s", c.ContactCooldown)
	}
	if c.RetryImmediate < 0 || c.RetryNoCandidate < 0 || c.RetryOfferOutstanding < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.ScanPageSize <= 0 {
		return fmt.Errorf("scan_page_size must be positive, got %d", c.ScanPageSize)
	}
	if c.QueueBatchSize <= 0 {
		return fmt.Errorf("queue_batch_size must be positive, got %d", c.QueueBatchSize)
	}
	if c.QueueVisibility <= 0 {
		return fmt.Errorf("queue_visibility_timeout must be positive, got %s", c.QueueVisibility)
	}
	return nil
}
