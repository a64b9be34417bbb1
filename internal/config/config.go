package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Run modes.
const (
	ModeProducer = "producer"
	ModeConsumer = "consumer"
)

// Config holds all application configuration.
type Config struct {
	Mode       string           `mapstructure:"mode"`
	Auth       AuthConfig       `mapstructure:"auth"`
	ServiceBus ServiceBusConfig `mapstructure:"servicebus"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Producer   ProducerConfig   `mapstructure:"producer"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// AuthConfig holds the credential and token endpoint settings.
type AuthConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"`
	OAuthEndpoint   string        `mapstructure:"oauth_endpoint"`
	Resource        string        `mapstructure:"resource"`
	ExpiryMargin    time.Duration `mapstructure:"expiry_margin"`
}

// ServiceBusConfig identifies the queue.
type ServiceBusConfig struct {
	Namespace   string        `mapstructure:"namespace"`
	Queue       string        `mapstructure:"queue"`
	Endpoint    string        `mapstructure:"endpoint"`
	PeekTimeout time.Duration `mapstructure:"peek_timeout"`
}

// HTTPConfig holds outbound HTTP client settings.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProducerConfig holds producer mode settings.
type ProducerConfig struct {
	Count         int           `mapstructure:"count"`
	ScheduleDelay time.Duration `mapstructure:"schedule_delay"`
	Rate          float64       `mapstructure:"rate"`
}

// ConsumerConfig holds consumer mode settings.
type ConsumerConfig struct {
	ProcessDelay  time.Duration `mapstructure:"process_delay"`
	ProcessSteps  int           `mapstructure:"process_steps"`
	LockRenewal   time.Duration `mapstructure:"lock_renewal"`
	MaxIterations int           `mapstructure:"max_iterations"`
	Pause         time.Duration `mapstructure:"pause"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// AdminConfig holds the health/metrics listener settings. An empty Addr
// disables the listener.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"mode":        "mode",
	"credentials": "auth.credentials_file",
	"namespace":   "servicebus.namespace",
	"queue":       "servicebus.queue",
	"count":       "producer.count",
	"log-level":   "logging.level",
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default so AutomaticEnv can see it during Unmarshal.
	v.SetDefault("mode", ModeConsumer)
	v.SetDefault("auth.credentials_file", "")
	v.SetDefault("auth.oauth_endpoint", "https://login.microsoftonline.com")
	v.SetDefault("auth.resource", "https://servicebus.azure.net")
	v.SetDefault("auth.expiry_margin", time.Duration(0))
	v.SetDefault("servicebus.namespace", "")
	v.SetDefault("servicebus.queue", "")
	v.SetDefault("servicebus.endpoint", "")
	v.SetDefault("servicebus.peek_timeout", time.Duration(0))
	v.SetDefault("http.timeout", time.Duration(0))
	v.SetDefault("producer.count", 1)
	v.SetDefault("producer.schedule_delay", 15*time.Second)
	v.SetDefault("producer.rate", 0.0)
	v.SetDefault("consumer.process_delay", 10*time.Second)
	v.SetDefault("consumer.process_steps", 10)
	v.SetDefault("consumer.lock_renewal", time.Duration(0))
	v.SetDefault("consumer.max_iterations", 0)
	v.SetDefault("consumer.pause", time.Duration(0))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "busclient.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 3)
	v.SetDefault("admin.addr", "")
}

// Load reads configuration from the given config directory path.
// It looks for an optional file named "config.yaml" in that directory.
// Environment variables with prefix BUSCLIENT_ override file values; for
// example, BUSCLIENT_SERVICEBUS_QUEUE overrides servicebus.queue. Flags
// that were set explicitly on flags override everything else. flags may
// be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	v.SetEnvPrefix("BUSCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the settings required by the selected mode are present.
func (c *Config) Validate() error {
	var problems []string

	switch c.Mode {
	case ModeProducer:
		if c.Producer.Count < 1 {
			problems = append(problems, "producer.count must be at least 1")
		}
	case ModeConsumer:
		if c.Consumer.MaxIterations < 0 {
			problems = append(problems, "consumer.max_iterations must not be negative")
		}
	default:
		problems = append(problems, fmt.Sprintf("mode must be %q or %q, got %q", ModeProducer, ModeConsumer, c.Mode))
	}

	if c.Auth.CredentialsFile == "" {
		problems = append(problems, "auth.credentials_file is required")
	}
	if c.ServiceBus.Namespace == "" && c.ServiceBus.Endpoint == "" {
		problems = append(problems, "servicebus.namespace is required")
	}
	if c.ServiceBus.Queue == "" {
		problems = append(problems, "servicebus.queue is required")
	}
	if c.Auth.ExpiryMargin < 0 {
		problems = append(problems, "auth.expiry_margin must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
