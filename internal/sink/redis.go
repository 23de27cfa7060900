// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relabs-tech/balance_screen/internal/session"
)

// recentPerUser bounds the per-user history set.
const recentPerUser = 50

// Redis keeps the latest records for quick lookup:
//
//	balance:result:<session>        JSON record, expires after ttl
//	balance:user:<user>:results     sorted set of session ids by completion time
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func resultKey(sessionID string) string { return "balance:result:" + sessionID }

func userKey(userID string) string { return "balance:user:" + userID + ":results" }

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Deliver(ctx context.Context, rec session.Record) error {
	payload, err := encode(rec)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, resultKey(rec.SessionID), payload, r.ttl)
	if rec.UserID != "" {
		key := userKey(rec.UserID)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(rec.CompletedAt.Unix()), Member: rec.SessionID})
		pipe.ZRemRangeByRank(ctx, key, 0, -recentPerUser-1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) Close() error {
	return r.client.Close()
}
