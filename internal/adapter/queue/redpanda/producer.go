// Package redpanda provides the Redpanda/Kafka queue for research jobs.
//
// The producer publishes one record per submitted job inside a Kafka
// transaction; the consumer drains records with a group transact session so
// offsets commit only for fully handled polls. Redelivery is safe because
// the job runner refuses to re-run terminal jobs.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	obsctx "github.com/fairyhunter13/lead-scout/internal/observability"
)

const (
	// TopicResearch carries one record per submitted research job.
	TopicResearch = "research-jobs"

	researchTopicPartitions = 8
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// Kafka transactions on one client cannot interleave; enqueues serialize
	// through this buffered channel.
	transactionChan chan struct{}
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "lead-scout-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional ID so tests can run several producers against one broker.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	slog.Info("creating redpanda producer",
		slog.Any("brokers", brokers),
		slog.String("transactional_id", transactionalID))

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, TopicResearch, researchTopicPartitions, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", TopicResearch),
			slog.Any("error", err))
	}

	return &Producer{
		client:          client,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// EnqueueResearch publishes the research task inside a Kafka transaction and
// returns the record key as the task id.
func (p *Producer) EnqueueResearch(ctx domain.Context, payload domain.ResearchTaskPayload) (string, error) {
	return p.EnqueueResearchToTopic(ctx, payload, TopicResearch)
}

// EnqueueResearchToTopic publishes to a specific topic so tests can isolate
// themselves on a shared broker.
func (p *Producer) EnqueueResearchToTopic(ctx domain.Context, payload domain.ResearchTaskPayload, topic string) (string, error) {
	if payload.JobID <= 0 {
		return "", fmt.Errorf("job id must be positive, got %d", payload.JobID)
	}
	key := strconv.FormatInt(payload.JobID, 10)
	lg := obsctx.LoggerFromContext(ctx).With(
		slog.Int64("job_id", payload.JobID),
		slog.String("topic", topic))

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			lg.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	headers := []kgo.RecordHeader{
		{Key: "job_id", Value: []byte(key)},
		{Key: "user_id", Value: []byte(payload.UserID)},
	}
	if reqID := obsctx.RequestIDFromContext(ctx); reqID != "" {
		headers = append(headers, kgo.RecordHeader{Key: "request_id", Value: []byte(reqID)})
	}
	record := &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   b,
		Headers: headers,
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			lg.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("commit transaction: %w", err)
	}

	observability.EnqueueJob("research")
	lg.Info("research task enqueued")
	return key, nil
}

// Ping reports broker reachability for readiness checks.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("producer not configured")
	}
	return p.client.Ping(ctx)
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
