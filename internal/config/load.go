package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000"},
			ShutdownTimeout: 10 * time.Second,
			AppName:         "BookHaven Messaging",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxConns:     25,
			QueryTimeout: 5 * time.Second,
		},
		Chat: ChatConfig{
			DefaultPageSize:  50,
			MaxPageSize:      100,
			MarkReadOnFetch:  true,
			MaxContentLength: 4000,
			SendRateLimit:    60,
		},
		Delivery: DeliveryConfig{
			Strategy:     "realtime",
			PollInterval: 3 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:         true,
			Backend:         "gochannel",
			QueueGroup:      "bookhaven-notify",
			DispatchTimeout: 5 * time.Second,
			MaxAttempts:     1,
			BodyMaxLength:   100,
			RateLimit:       50,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Push: PushConfig{
			ExpoURL:         "https://exp.host/--/api/v2/push/send",
			VAPIDSubscriber: "mailto:support@bookhaven.app",
		},
		Storage: StorageConfig{
			Region:        "us-east-1",
			PresignExpiry: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, then the config file if one
// exists, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"port":             "server.port",
	"host":             "server.host",
	"cors_origins":     "server.cors_origins",
	"shutdown_timeout": "server.shutdown_timeout",
	"app_name":         "server.app_name",

	"database_url":           "database.url",
	"database_driver":        "database.driver",
	"database_max_conns":     "database.max_conns",
	"database_query_timeout": "database.query_timeout",

	"jwt_secret": "auth.jwt_secret",

	"chat_default_page_size":  "chat.default_page_size",
	"chat_max_page_size":      "chat.max_page_size",
	"chat_mark_read_on_fetch": "chat.mark_read_on_fetch",
	"chat_max_content_length": "chat.max_content_length",
	"chat_send_rate_limit":    "chat.send_rate_limit",

	"delivery_strategy":      "delivery.strategy",
	"delivery_poll_interval": "delivery.poll_interval",

	"notify_enabled":          "notify.enabled",
	"notify_backend":          "notify.backend",
	"notify_nats_url":         "notify.nats_url",
	"notify_queue_group":      "notify.queue_group",
	"notify_dispatch_timeout": "notify.dispatch_timeout",
	"notify_max_attempts":     "notify.max_attempts",
	"notify_body_max_length":  "notify.body_max_length",
	"notify_rate_limit":       "notify.rate_limit",
	"notify_breaker_failures": "notify.breaker_failures",
	"notify_breaker_timeout":  "notify.breaker_timeout",

	"expo_push_url":     "push.expo_url",
	"expo_access_token": "push.expo_access_token",
	"vapid_public_key":  "push.vapid_public_key",
	"vapid_private_key": "push.vapid_private_key",
	"vapid_subscriber":  "push.vapid_subscriber",

	"s3_bucket_name":     "storage.bucket",
	"aws_region":         "storage.region",
	"s3_public_base_url": "storage.public_base_url",
	"s3_presign_expiry":  "storage.presign_expiry",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable to its koanf path. Unknown
// variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
