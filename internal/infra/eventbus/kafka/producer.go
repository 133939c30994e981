package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"

	"github.com/ahrav/billharvest/pkg/common/logger"
)

// Config holds the settings for the outcome producer.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	// ConnectTimeout bounds how long NewProducerWithRetry keeps trying.
	ConnectTimeout time.Duration
}

func saramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = 3

	config.Version = sarama.V3_6_0_0

	return config
}

// NewProducerWithRetry dials the brokers with exponential backoff, starting at
// one second and giving up after cfg.ConnectTimeout (one minute when unset).
func NewProducerWithRetry(ctx context.Context, cfg Config, log *logger.Logger) (sarama.SyncProducer, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	if expBackoff.MaxElapsedTime <= 0 {
		expBackoff.MaxElapsedTime = time.Minute
	}

	var producer sarama.SyncProducer
	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg.ClientID))
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn(ctx, "Kafka not reachable, retrying", "brokers", cfg.Brokers, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return producer, nil
}
