package eventbus

import (
	"fmt"
	"strings"
)

// ExchangeName is the single direct exchange all events flow through. The
// routing key of every publish and binding is the event's type name.
const ExchangeName = "it-intern_event_bus"

// Config holds the fields bound from the host's EventBus configuration
// section.
type Config struct {
	// SubscriptionClientName names this subscriber's durable queue. Required.
	SubscriptionClientName string
	// RetryCount bounds the per-publish retry pipeline. Default 10.
	RetryCount int

	// AMQP connection factory fields, set by WithBrokerEndpoint. The bus
	// does not read them: NewEventBus takes an already opened connection.
	HostName    string
	UserName    string
	Password    string
	VirtualHost string
	Port        string
}

// ConfigOption mutates a Config during construction.
type ConfigOption func(*Config)

// WithSubscriptionClientName sets the subscriber queue name.
func WithSubscriptionClientName(name string) ConfigOption {
	return func(cfg *Config) { cfg.SubscriptionClientName = name }
}

// WithRetryCount sets the publish retry attempt bound.
func WithRetryCount(count int) ConfigOption {
	return func(cfg *Config) { cfg.RetryCount = count }
}

// WithBrokerEndpoint sets the AMQP connection factory fields.
func WithBrokerEndpoint(host, port, user, pass, vhost string) ConfigOption {
	return func(cfg *Config) {
		cfg.HostName = host
		cfg.Port = port
		cfg.UserName = user
		cfg.Password = pass
		cfg.VirtualHost = vhost
	}
}

// NewConfig builds and validates a Config. Missing required fields fail
// synchronously at construction.
func NewConfig(opts ...ConfigOption) (Config, error) {
	cfg := Config{RetryCount: DefaultRetryCount}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.SubscriptionClientName = strings.TrimSpace(cfg.SubscriptionClientName)

	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
}

// Validate checks the required fields.
func (cfg Config) Validate() error {
	if cfg.SubscriptionClientName == "" {
		return fmt.Errorf("%w: SubscriptionClientName is required", ErrConfigInvalid)
	}

	return nil
}
