// Package jobs schedules pipeline invocations over Redis: a list for ready
// jobs, a per-instance processing list for in-flight jobs, a sorted set for
// delayed retries, and a worker pool consuming them. Delivery is
// at-least-once; the pipeline is built to tolerate duplicates.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey      = "scribe:jobs:ready"
	processingKey = "scribe:jobs:processing"
	delayedKey    = "scribe:jobs:delayed"
)

// Job is one pipeline invocation request for an encounter. Attempt counts
// deliveries after the first: 0 on initial enqueue, 1 and 2 on retries.
type Job struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	Attempt     int       `json:"attempt"`
}

// Queue schedules pipeline jobs. The upload handler only needs Enqueue;
// scheduling retries is the worker pool's business.
type Queue interface {
	Enqueue(ctx context.Context, encounterID uuid.UUID) error
}

// RedisQueue implements Queue over a Redis list plus a delayed sorted set.
// Popping moves the job onto a processing list rather than deleting it, so
// a crash mid-job leaves the payload reclaimable instead of lost.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a RedisQueue.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a fresh job onto the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, encounterID uuid.UUID) error {
	return q.push(ctx, Job{EncounterID: encounterID})
}

func (q *RedisQueue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// scheduleRetry parks the job in the delayed set, due after delay.
func (q *RedisQueue) scheduleRetry(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// pop blocks for up to timeout waiting for a ready job, atomically moving
// it onto the processing list. The raw payload is returned alongside the
// decoded job; workers pass it back to ack once the job is settled. Returns
// a nil job when the wait times out with nothing available.
func (q *RedisQueue) pop(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	raw, err := q.client.BLMove(ctx, readyKey, processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// An undecodable payload can never be processed; drop it from the
		// processing list so reclaim doesn't redeliver it forever.
		_ = q.client.LRem(ctx, processingKey, 1, raw)
		return nil, "", fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, raw, nil
}

// ack removes a settled job from the processing list. An unacked job is
// redelivered by Reclaim on the next startup.
func (q *RedisQueue) ack(ctx context.Context, raw string) error {
	if err := q.client.LRem(ctx, processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Reclaim moves orphaned in-flight jobs back onto the ready list. Call it
// once at startup before workers begin popping: anything still on the
// processing list was in flight when the previous process died. With
// several engine replicas a restart may also reclaim a sibling's live job;
// that only causes a duplicate delivery, which the pipeline absorbs.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	reclaimed := 0
	for {
		err := q.client.LMove(ctx, processingKey, readyKey, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return reclaimed, nil
		}
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim job: %w", err)
		}
		reclaimed++
	}
}

// promoteDue moves jobs whose retry delay has elapsed from the delayed set
// onto the ready list. ZRem before LPush: with several workers promoting
// concurrently, only the one that removed the member re-enqueues it.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}
