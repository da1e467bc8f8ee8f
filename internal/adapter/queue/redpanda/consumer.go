package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/domain"
	obsctx "github.com/fairyhunter13/lead-scout/internal/observability"
)

// defaultJobWorkers bounds how many jobs one worker process runs at once.
// Row-level parallelism inside a job is the runner's concern.
const defaultJobWorkers = 4

// JobRunner drives one queued job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, jobID int64) error
}

// Consumer drains research-job records within group transactions: each poll
// is handled to completion and its offsets committed together, or aborted so
// the whole poll is redelivered. Redelivery is safe because the runner
// refuses terminal jobs.
type Consumer struct {
	session *kgo.GroupTransactSession
	runner  JobRunner
	groupID string
	topic   string
	workers int
}

// NewConsumer constructs a Consumer with exactly-once offset semantics.
func NewConsumer(brokers []string, groupID string, runner JobRunner) (*Consumer, error) {
	return NewConsumerWithConfig(brokers, groupID, "lead-scout-consumer", runner, defaultJobWorkers, TopicResearch)
}

// NewConsumerWithConfig constructs a Consumer with a custom transactional id,
// worker bound, and topic so tests can isolate themselves on a shared broker.
func NewConsumerWithConfig(brokers []string, groupID, transactionalID string, runner JobRunner, workers int, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if runner == nil {
		return nil, fmt.Errorf("missing job runner")
	}
	if workers <= 0 {
		workers = defaultJobWorkers
	}
	slog.Info("creating redpanda consumer",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("transactional_id", transactionalID),
		slog.String("topic", topic),
		slog.Int("workers", workers))

	// The session only consumes topics that already exist; ensure ours with
	// a short-lived plain client first.
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("temp client: %w", err)
	}
	defer tempClient.Close()
	if err := createTopicIfNotExists(context.Background(), tempClient, topic, researchTopicPartitions, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),
		kgo.FetchMaxWait(5 * time.Second),
	}
	session, err := kgo.NewGroupTransactSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda transactional session: %w", err)
	}

	return &Consumer{
		session: session,
		runner:  runner,
		groupID: groupID,
		topic:   topic,
		workers: workers,
	}, nil
}

// Run polls until ctx is cancelled. Every fetched batch is handled inside
// one transaction; a batch with any failed record is aborted and redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("redpanda consumer started",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("workers", c.workers))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := c.session.PollFetches(ctx)
		if fetches.IsClientClosed() {
			slog.Info("redpanda consumer client closed")
			return nil
		}
		if fetchErrs := fetches.Errors(); len(fetchErrs) > 0 {
			for _, fe := range fetchErrs {
				if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
					return fe.Err
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}
		if fetches.NumRecords() == 0 {
			continue
		}

		if err := c.session.Begin(); err != nil {
			slog.Error("begin transaction failed", slog.Any("error", err))
			time.Sleep(2 * time.Second)
			continue
		}

		batchOK := c.handleBatch(ctx, fetches)

		try := kgo.TryCommit
		if !batchOK {
			try = kgo.TryAbort
		}
		committed, err := c.session.End(ctx, try)
		switch {
		case err != nil:
			slog.Error("end transaction failed", slog.Any("error", err))
		case !committed && batchOK:
			slog.Warn("batch handled but commit lost to a rebalance, records will be redelivered")
		case !batchOK:
			slog.Warn("batch aborted, records will be redelivered",
				slog.Int("records", fetches.NumRecords()))
		}
	}
}

// handleBatch fans the fetched records out to at most c.workers goroutines
// and reports whether every record was handled.
func (c *Consumer) handleBatch(ctx context.Context, fetches kgo.Fetches) bool {
	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, c.workers)
		mu   sync.Mutex
		fail bool
	)
	fetches.EachRecord(func(record *kgo.Record) {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *kgo.Record) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processRecord(ctx, rec); err != nil {
				slog.Error("record processing failed",
					slog.String("key", string(rec.Key)),
					slog.Int64("offset", rec.Offset),
					slog.Int("partition", int(rec.Partition)),
					slog.Any("error", err))
				mu.Lock()
				fail = true
				mu.Unlock()
			}
		}(record)
	})
	wg.Wait()
	return !fail
}

// processRecord runs one research job record through the runner.
func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessResearchJob")
	defer span.End()

	var payload domain.ResearchTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		// A permanently broken record must not wedge the partition.
		span.RecordError(err)
		slog.Error("dropping malformed record",
			slog.String("key", string(record.Key)),
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return nil
	}
	span.SetAttributes(attribute.Int64("job.id", payload.JobID))

	for _, h := range record.Headers {
		if h.Key == "request_id" && len(h.Value) > 0 {
			ctx = obsctx.ContextWithRequestID(ctx, string(h.Value))
			break
		}
	}
	lg := obsctx.LoggerFromContext(ctx).With(
		slog.Int64("job_id", payload.JobID),
		slog.String("user_id", payload.UserID))
	if reqID := obsctx.RequestIDFromContext(ctx); reqID != "" {
		lg = lg.With(slog.String("request_id", reqID))
	}
	ctx = obsctx.ContextWithLogger(ctx, lg)
	ctx = obsctx.ContextWithJobID(ctx, payload.JobID)

	lg.Info("processing research task",
		slog.Int64("offset", record.Offset),
		slog.Int("partition", int(record.Partition)))

	observability.StartProcessingJob("research")
	if err := c.runner.Run(ctx, payload.JobID); err != nil {
		observability.FailJob("research")
		lg.Error("research task failed", slog.Any("error", err))
		return err
	}
	observability.CompleteJob("research")
	lg.Info("research task completed")
	return nil
}

// Ping reports broker reachability for readiness checks.
func (c *Consumer) Ping(ctx context.Context) error {
	if c == nil || c.session == nil {
		return fmt.Errorf("consumer not configured")
	}
	return c.session.Client().Ping(ctx)
}

// Close closes the underlying session.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}
