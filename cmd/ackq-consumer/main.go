// Command ackq-consumer consumes JSON events from an SQS queue through an ackq
// session, with redelivery of unacknowledged messages and OpenTelemetry export.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"

	"github.com/vmyroslav/ackq-go/consumer"
	"github.com/vmyroslav/ackq-go/consumer/observability"
)

// Event is the JSON document carried in the message body.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

func main() {
	appConfig, err := loadConfiguration()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := appConfig.logLevel()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, appConfig, logger); err != nil {
		logger.Error("consumer failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("consumer shutdown complete")
}

func run(ctx context.Context, appConfig *Configuration, logger *slog.Logger) error {
	tel, err := setupTelemetry(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shut down telemetry", slog.Any("error", err))
		}
	}()

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(appConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(appConfig.AWSAccessKey, appConfig.AWSSecretKey, "")),
		config.WithBaseEndpoint(appConfig.AWSEndpoint),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	transport, err := consumer.NewSQSTransport(appConfig.sqsConfig(), sqs.NewFromConfig(awsCfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create SQS transport: %w", err)
	}

	obsConfig := observability.NewConfig(
		observability.WithTracerProvider(otel.GetTracerProvider()),
		observability.WithMeterProvider(otel.GetMeterProvider()),
		observability.WithPropagator(otel.GetTextMapPropagator()),
		observability.WithInstrumentationVersion(serviceVersion),
		observability.WithMessagingSystem("aws_sqs"),
		observability.WithAttributes(semconv.MessagingDestinationName(appConfig.QueueURL)),
	)

	consumerCfg, err := consumer.NewConfig(append(appConfig.consumerOptions(), consumer.WithObservability(obsConfig))...)
	if err != nil {
		return fmt.Errorf("failed to create consumer config: %w", err)
	}

	session, err := consumer.Subscribe(ctx, *consumerCfg, transport, consumer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	listener := consumer.NewListener[Event](
		consumer.ListenerConfig{Observability: obsConfig, WorkerPoolSize: appConfig.Workers},
		session,
		consumer.NewJSONMessageAdapter[Event](),
		[]consumer.Middleware[Event]{
			consumer.NewPanicRecoverMiddleware[Event](),
			consumer.NewLoggingMiddleware[Event](logger),
		},
		logger,
	)

	logger.Info("starting consumer",
		slog.String("queue_url", appConfig.QueueURL),
		slog.String("consumer", session.Name()),
		slog.Int("workers", int(appConfig.Workers)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Listen(gctx, consumer.HandlerFunc[Event](func(ctx context.Context, e Event) error {
			return handleEvent(ctx, logger, e)
		}))
	})
	g.Go(func() error { return reportStats(gctx, session, appConfig.StatsInterval, logger) })
	g.Go(func() error { return tel.Serve(gctx) })

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appConfig.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, session.Close(closeCtx))
}

func handleEvent(ctx context.Context, logger *slog.Logger, e Event) error {
	if e.ID == "" {
		return errors.New("event without id")
	}

	logger.InfoContext(ctx, "processing event",
		slog.String("id", e.ID),
		slog.String("type", e.Type),
		slog.Time("timestamp", e.Timestamp),
	)

	return nil
}

// reportStats logs the broker consumer stats every interval.
func reportStats(ctx context.Context, session *consumer.Session, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		stats, err := session.BrokerConsumerStats(ctx)
		if err != nil {
			if errors.Is(err, consumer.ErrClosed) {
				return nil
			}

			logger.WarnContext(ctx, "failed to fetch consumer stats", slog.Any("error", err))

			continue
		}

		logger.InfoContext(ctx, "consumer stats",
			slog.String("consumer", stats.ConsumerName),
			slog.Float64("msg_rate_out", stats.MsgRateOut),
			slog.Float64("msg_throughput_out", stats.MsgThroughputOut),
			slog.Float64("msg_rate_redeliver", stats.MsgRateRedeliver),
			slog.Int64("msg_backlog", stats.MsgBacklog),
			slog.Int64("unacked", stats.UnackedMessages),
			slog.Int64("available_permits", stats.AvailablePermits),
			slog.Bool("blocked", stats.BlockedConsumerOnUnackedMsgs),
		)
	}
}
