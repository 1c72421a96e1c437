// Package config loads server configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"bookhaven/server/internal/validation"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Chat     ChatConfig     `koanf:"chat"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Notify   NotifyConfig   `koanf:"notify"`
	Push     PushConfig     `koanf:"push"`
	Storage  StorageConfig  `koanf:"storage"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	AppName         string        `koanf:"app_name"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is postgres or memory. memory is for local development only.
	Driver       string        `koanf:"driver" validate:"oneof=postgres memory"`
	URL          string        `koanf:"url" validate:"required_if=Driver postgres"`
	MaxConns     int32         `koanf:"max_conns" validate:"min=1"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gt=0"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required,min=16"`
}

type ChatConfig struct {
	DefaultPageSize  int  `koanf:"default_page_size" validate:"min=1"`
	MaxPageSize      int  `koanf:"max_page_size" validate:"gtefield=DefaultPageSize"`
	MarkReadOnFetch  bool `koanf:"mark_read_on_fetch"`
	MaxContentLength int  `koanf:"max_content_length" validate:"min=1"`
	// SendRateLimit is the number of sends allowed per user per minute.
	SendRateLimit int `koanf:"send_rate_limit" validate:"min=1"`
}

type DeliveryConfig struct {
	Strategy     string        `koanf:"strategy" validate:"oneof=realtime poll"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type NotifyConfig struct {
	Enabled bool `koanf:"enabled"`
	// Backend is gochannel (in-process) or nats.
	Backend         string        `koanf:"backend" validate:"oneof=gochannel nats"`
	NATSURL         string        `koanf:"nats_url" validate:"required_if=Backend nats"`
	QueueGroup      string        `koanf:"queue_group"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout" validate:"gt=0"`
	MaxAttempts     int           `koanf:"max_attempts" validate:"min=1,max=10"`
	BodyMaxLength   int           `koanf:"body_max_length" validate:"min=10"`
	RateLimit       float64       `koanf:"rate_limit" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

type PushConfig struct {
	ExpoURL         string `koanf:"expo_url" validate:"omitempty,url"`
	ExpoAccessToken string `koanf:"expo_access_token"`
	VAPIDPublicKey  string `koanf:"vapid_public_key"`
	VAPIDPrivateKey string `koanf:"vapid_private_key"`
	VAPIDSubscriber string `koanf:"vapid_subscriber"`
}

// WebPushEnabled reports whether VAPID keys are configured.
func (p PushConfig) WebPushEnabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type StorageConfig struct {
	Bucket        string        `koanf:"bucket"`
	Region        string        `koanf:"region"`
	PublicBaseURL string        `koanf:"public_base_url" validate:"omitempty,url"`
	PresignExpiry time.Duration `koanf:"presign_expiry" validate:"gt=0"`
}

// Enabled reports whether presigned uploads can be issued.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != ""
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
