package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/permapay/permapay/logger"
)

// RedisConfig configures one Redis Streams backed job queue.
type RedisConfig struct {
	Addr        string
	Username    string
	Password    string
	Stream      string
	Group       string
	MaxAttempts int
	BlockTime   time.Duration
}

// NewRedis builds a queue backed by a Redis stream with a consumer group.
// Jobs are acknowledged only after the handler succeeds; failed jobs are
// requeued with an attempt counter until the budget runs out.
func NewRedis(cfg RedisConfig, log logger.Logger) (Queue, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if strings.TrimSpace(cfg.Stream) == "" {
		return nil, fmt.Errorf("redis stream name is required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = cfg.Stream + "-workers"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: 2,
	})

	q := &redisQueue{
		client:      client,
		stream:      cfg.Stream,
		group:       group,
		consumer:    randomConsumerID(),
		maxAttempts: cfg.MaxAttempts,
		blockTime:   cfg.BlockTime,
		log:         log,
		backoff:     backoffDelay,
	}
	q.addFn = q.add
	q.ackFn = q.ack
	if err := q.ensureGroup(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

type redisQueue struct {
	client      *redis.Client
	stream      string
	group       string
	consumer    string
	maxAttempts int
	blockTime   time.Duration
	log         logger.Logger

	addFn   func(ctx context.Context, payload string, attempt int) error
	ackFn   func(ctx context.Context, id string)
	backoff func(attempt int) time.Duration
}

func (q *redisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("creating consumer group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

func (q *redisQueue) Enqueue(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.add(ctx, string(data), 1)
}

func (q *redisQueue) add(ctx context.Context, payload string, attempt int) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"payload": payload,
			"attempt": attempt,
		},
	}).Err()
}

func (q *redisQueue) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    16,
			Block:    q.blockTime,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.log.Warn("queue read failed", map[string]any{"stream": q.stream, "error": err.Error()})
			time.Sleep(200 * time.Millisecond)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, handler, msg)
			}
		}
	}
}

func (q *redisQueue) process(ctx context.Context, handler Handler, msg redis.XMessage) {
	payload, attempt := decodeMessage(msg)
	if len(payload) == 0 {
		q.ackFn(ctx, msg.ID)
		return
	}

	err := handler(ctx, payload)
	if err == nil {
		q.ackFn(ctx, msg.ID)
		return
	}

	if attempt >= q.maxAttempts {
		q.log.Error("job dropped after max attempts", map[string]any{
			"stream":   q.stream,
			"attempts": attempt,
			"error":    err.Error(),
		})
		q.ackFn(ctx, msg.ID)
		return
	}
	q.log.Warn("job failed, requeueing", map[string]any{
		"stream":  q.stream,
		"attempt": attempt,
		"error":   err.Error(),
	})
	// Off the consumer loop so one backing-off job does not stall the
	// other pending messages on the stream.
	go q.requeue(ctx, msg.ID, string(payload), attempt+1)
}

// requeue re-adds the job after its backoff and only then acknowledges the
// original delivery. A crash between the two leaves the entry pending for
// redelivery instead of losing it.
func (q *redisQueue) requeue(ctx context.Context, id, payload string, attempt int) {
	timer := time.NewTimer(q.backoff(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}
	if err := q.addFn(ctx, payload, attempt); err != nil {
		q.log.Error("job requeue failed", map[string]any{"stream": q.stream, "error": err.Error()})
		return
	}
	q.ackFn(ctx, id)
}

func (q *redisQueue) ack(ctx context.Context, id string) {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		q.log.Warn("queue ack failed", map[string]any{"stream": q.stream, "id": id, "error": err.Error()})
	}
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}

func decodeMessage(msg redis.XMessage) ([]byte, int) {
	attempt := 1
	if raw, ok := msg.Values["attempt"]; ok {
		if s, ok := raw.(string); ok {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				attempt = n
			}
		}
	}
	raw, ok := msg.Values["payload"]
	if !ok {
		return nil, attempt
	}
	switch v := raw.(type) {
	case string:
		return []byte(v), attempt
	case []byte:
		return v, attempt
	}
	return nil, attempt
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return "consumer-" + hex.EncodeToString(buf)
}
