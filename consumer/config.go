package consumer

import (
	"fmt"
	"time"

	"github.com/vmyroslav/ackq-go/consumer/observability"
)

// Default values for consumer configuration
const (
	DefaultUnAckedMessagesTimeout       = 0 // disabled
	DefaultTickDuration                 = time.Second
	DefaultNackRedeliveryDelay          = time.Minute
	DefaultBrokerConsumerStatsCacheTime = 30 * time.Second
	DefaultReceiverQueueSize            = 1000
	DefaultAckGroupTime                 = 100 * time.Millisecond
	DefaultMaxAckGroupSize              = 1000
	DefaultErrorNumberThreshold         = -1
	DefaultGracefulShutdownTimeout      = 30 * time.Second
	DefaultSubscriptionType             = Exclusive
)

type Config struct {
	Observability *observability.Config
	// NackBackoff overrides NackRedeliveryDelay with a per redelivery-count delay.
	NackBackoff      NackBackoff
	ConsumerName     string
	SubscriptionType SubscriptionType
	// UnAckedMessagesTimeout is the redelivery deadline (unAckedMessagesTimeoutMs). Zero disables it.
	UnAckedMessagesTimeout time.Duration
	TickDuration           time.Duration
	NackRedeliveryDelay    time.Duration
	// BrokerConsumerStatsCacheTime is how long a stats snapshot stays valid (brokerConsumerStatsCacheTimeInMs).
	BrokerConsumerStatsCacheTime time.Duration
	AckGroupTime                 time.Duration
	GracefulShutdownTimeout      time.Duration
	ReceiverQueueSize            int
	MaxAckGroupSize              int
	// ErrorNumberThreshold stops the transport pump after that many consecutive
	// receive errors. Non positive values retry forever.
	ErrorNumberThreshold int32
}

// Option is an interface that configures a consumer Config
type Option interface {
	apply(*Config)
}

// option is a function that configures a consumer Config
type option func(*Config)

func (o option) apply(c *Config) {
	o(c)
}

// NewConfig creates a new Config with defaults and the provided options applied.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		SubscriptionType:             DefaultSubscriptionType,
		UnAckedMessagesTimeout:       DefaultUnAckedMessagesTimeout,
		TickDuration:                 DefaultTickDuration,
		NackRedeliveryDelay:          DefaultNackRedeliveryDelay,
		BrokerConsumerStatsCacheTime: DefaultBrokerConsumerStatsCacheTime,
		AckGroupTime:                 DefaultAckGroupTime,
		GracefulShutdownTimeout:      DefaultGracefulShutdownTimeout,
		ReceiverQueueSize:            DefaultReceiverQueueSize,
		MaxAckGroupSize:              DefaultMaxAckGroupSize,
		ErrorNumberThreshold:         DefaultErrorNumberThreshold,
		Observability:                observability.NewConfig(), // disabled by default
	}

	for _, opt := range opts {
		opt.apply(c)
	}

	if _, err := c.IsValid(); err != nil {
		return nil, err
	}

	return c, nil
}

// WithConsumerName sets the consumer name reported in stats. A random name is used when empty.
func WithConsumerName(name string) Option {
	return option(func(c *Config) {
		c.ConsumerName = name
	})
}

// WithSubscriptionType sets the subscription type
func WithSubscriptionType(st SubscriptionType) Option {
	return option(func(c *Config) {
		c.SubscriptionType = st
	})
}

// WithUnAckedMessagesTimeout sets the ack deadline after which a message is redelivered
func WithUnAckedMessagesTimeout(timeout time.Duration) Option {
	return option(func(c *Config) {
		c.UnAckedMessagesTimeout = timeout
	})
}

// WithTickDuration sets how often the redelivery scheduler scans for expired messages
func WithTickDuration(d time.Duration) Option {
	return option(func(c *Config) {
		c.TickDuration = d
	})
}

// WithNackRedeliveryDelay sets the delay before a negatively acknowledged message is redelivered
func WithNackRedeliveryDelay(d time.Duration) Option {
	return option(func(c *Config) {
		c.NackRedeliveryDelay = d
	})
}

// WithNackBackoff sets a redelivery-count based delay for negative acknowledgments
func WithNackBackoff(b NackBackoff) Option {
	return option(func(c *Config) {
		c.NackBackoff = b
	})
}

// WithBrokerConsumerStatsCacheTime sets how long a stats snapshot is served from cache
func WithBrokerConsumerStatsCacheTime(d time.Duration) Option {
	return option(func(c *Config) {
		c.BrokerConsumerStatsCacheTime = d
	})
}

// WithReceiverQueueSize sets the size of the local receive buffer
func WithReceiverQueueSize(size int) Option {
	return option(func(c *Config) {
		c.ReceiverQueueSize = size
	})
}

// WithAckGroupTime sets how long acks are grouped before being sent upstream. Zero sends immediately.
func WithAckGroupTime(d time.Duration) Option {
	return option(func(c *Config) {
		c.AckGroupTime = d
	})
}

// WithMaxAckGroupSize sets the number of pending acks that triggers a flush
func WithMaxAckGroupSize(size int) Option {
	return option(func(c *Config) {
		c.MaxAckGroupSize = size
	})
}

// WithErrorNumberThreshold sets the error number threshold
func WithErrorNumberThreshold(threshold int32) Option {
	return option(func(c *Config) {
		c.ErrorNumberThreshold = threshold
	})
}

// WithGracefulShutdownTimeout sets the graceful shutdown timeout
func WithGracefulShutdownTimeout(timeout time.Duration) Option {
	return option(func(c *Config) {
		c.GracefulShutdownTimeout = timeout
	})
}

// WithObservability sets the observability configuration
func WithObservability(obs *observability.Config) Option {
	return option(func(c *Config) {
		c.Observability = obs
	})
}

func (c *Config) IsValid() (bool, error) { // nolint: cyclop
	if !c.SubscriptionType.IsValid() {
		return false, &WrongConfigError{Err: fmt.Errorf("unknown subscription type %q", c.SubscriptionType)}
	}

	if c.UnAckedMessagesTimeout < 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("unAckedMessagesTimeout must not be negative")}
	}

	if c.TickDuration <= 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("tickDuration must be greater than 0")}
	}

	if c.NackRedeliveryDelay < 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("nackRedeliveryDelay must not be negative")}
	}

	if c.BrokerConsumerStatsCacheTime < 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("brokerConsumerStatsCacheTime must not be negative")}
	}

	if c.ReceiverQueueSize <= 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("receiverQueueSize must be greater than 0")}
	}

	if c.AckGroupTime < 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("ackGroupTime must not be negative")}
	}

	if c.MaxAckGroupSize <= 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("maxAckGroupSize must be greater than 0")}
	}

	if c.GracefulShutdownTimeout <= 0 {
		return false, &WrongConfigError{Err: fmt.Errorf("gracefulShutdownTimeout must be greater than 0")}
	}

	return true, nil
}

// effectiveTick never lets a scan interval exceed the ack timeout.
func (c *Config) effectiveTick() time.Duration {
	if c.UnAckedMessagesTimeout > 0 && c.UnAckedMessagesTimeout < c.TickDuration {
		return c.UnAckedMessagesTimeout
	}

	return c.TickDuration
}

func (c *Config) nackDelay(redeliveryCount uint32) time.Duration {
	if c.NackBackoff != nil {
		return c.NackBackoff.Delay(redeliveryCount)
	}

	return c.NackRedeliveryDelay
}
