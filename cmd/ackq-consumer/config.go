package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/vmyroslav/ackq-go/consumer"
)

// Configuration holds all configurable values.
// Values come from the environment; a YAML file named by ACKQ_CONFIG_FILE
// is applied on top and wins over the environment.
type Configuration struct {
	ConfigFile string `env:"ACKQ_CONFIG_FILE" yaml:"-"`

	// AWS/SQS Configuration
	AWSRegion         string `env:"AWS_REGION" envDefault:"us-east-1" yaml:"aws_region"`
	AWSEndpoint       string `env:"AWS_ENDPOINT" envDefault:"http://localhost:4566" yaml:"aws_endpoint"`
	AWSAccessKey      string `env:"AWS_ACCESS_KEY_ID" envDefault:"test" yaml:"-"`
	AWSSecretKey      string `env:"AWS_SECRET_ACCESS_KEY" envDefault:"test" yaml:"-"`
	QueueURL          string `env:"QUEUE_URL" envDefault:"http://localhost:4566/000000000000/test-queue" yaml:"queue_url"`
	MaxMessages       int32  `env:"MAX_MESSAGES" envDefault:"10" yaml:"max_messages"`
	WaitTimeSeconds   int32  `env:"WAIT_TIME_SECONDS" envDefault:"2" yaml:"wait_time_seconds"`
	VisibilityTimeout int32  `env:"VISIBILITY_TIMEOUT" envDefault:"30" yaml:"visibility_timeout"`

	// Consumer Configuration
	ConsumerName           string        `env:"CONSUMER_NAME" yaml:"consumer_name"`
	SubscriptionType       string        `env:"SUBSCRIPTION_TYPE" envDefault:"shared" yaml:"subscription_type"`
	UnackedMessagesTimeout time.Duration `env:"UNACKED_MESSAGES_TIMEOUT" envDefault:"20s" yaml:"unacked_messages_timeout"`
	TickDuration           time.Duration `env:"TICK_DURATION" envDefault:"1s" yaml:"tick_duration"`
	NackRedeliveryDelay    time.Duration `env:"NACK_REDELIVERY_DELAY" envDefault:"5s" yaml:"nack_redelivery_delay"`
	NackMaxDelay           time.Duration `env:"NACK_MAX_DELAY" envDefault:"1m" yaml:"nack_max_delay"`
	StatsCacheTime         time.Duration `env:"BROKER_CONSUMER_STATS_CACHE_TIME" envDefault:"30s" yaml:"broker_consumer_stats_cache_time"`
	StatsInterval          time.Duration `env:"STATS_INTERVAL" envDefault:"30s" yaml:"stats_interval"`
	ReceiverQueueSize      int           `env:"RECEIVER_QUEUE_SIZE" envDefault:"100" yaml:"receiver_queue_size"`
	AckGroupTime           time.Duration `env:"ACK_GROUP_TIME" envDefault:"100ms" yaml:"ack_group_time"`
	Workers                int32         `env:"WORKERS" envDefault:"4" yaml:"workers"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout"`

	// OpenTelemetry Configuration
	OTLPEndpoint          string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint"`
	MetricsAddr           string `env:"METRICS_ADDR" envDefault:":9464" yaml:"metrics_addr"`
	EnableStdoutTelemetry bool   `env:"ENABLE_STDOUT_TELEMETRY" envDefault:"false" yaml:"enable_stdout_telemetry"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level"`
}

// loadConfiguration loads configuration from environment variables with defaults
// and overlays the optional config file.
func loadConfiguration() (*Configuration, error) {
	cfg := &Configuration{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

func (c *Configuration) consumerOptions() []consumer.Option {
	return []consumer.Option{
		consumer.WithConsumerName(c.ConsumerName),
		consumer.WithSubscriptionType(consumer.SubscriptionType(c.SubscriptionType)),
		consumer.WithUnAckedMessagesTimeout(c.UnackedMessagesTimeout),
		consumer.WithTickDuration(c.TickDuration),
		consumer.WithNackBackoff(consumer.NewExponentialNackBackoff(c.NackRedeliveryDelay, c.NackMaxDelay)),
		consumer.WithBrokerConsumerStatsCacheTime(c.StatsCacheTime),
		consumer.WithReceiverQueueSize(c.ReceiverQueueSize),
		consumer.WithAckGroupTime(c.AckGroupTime),
		consumer.WithErrorNumberThreshold(0),
		consumer.WithGracefulShutdownTimeout(c.ShutdownTimeout),
	}
}

func (c *Configuration) sqsConfig() consumer.SQSConfig {
	cfg := consumer.NewSQSConfig(c.QueueURL)
	cfg.MaxNumberOfMessages = c.MaxMessages
	cfg.WaitTimeSeconds = c.WaitTimeSeconds
	cfg.VisibilityTimeout = c.VisibilityTimeout

	return cfg
}

func (c *Configuration) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	return level, nil
}
