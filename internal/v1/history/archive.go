package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// Archive persists evicted history batches to Redis lists and serves the
// external-load fallback for paginated reads. Lists are stored oldest-first
// under dialogue:history:{roomId}:{eventName}. All calls run behind a
// circuit breaker; when the breaker is open the archive degrades gracefully
// (drops writes, returns empty reads).
type Archive struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker

	// maxLen bounds each archive list (0 = unbounded)
	maxLen int64
}

// NewArchive creates a Redis-backed archive and verifies connectivity.
func NewArchive(addr, password string, maxLen int64) (*Archive, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "history-archive",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis history archive", zap.String("addr", addr))
	return &Archive{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		maxLen: maxLen,
	}, nil
}

func archiveKey(roomID protocol.RoomID, eventName string) string {
	return fmt.Sprintf("dialogue:history:%s:%s", roomID, eventName)
}

// Store appends an evicted batch to the archive list. Satisfies CleanupFunc.
func (a *Archive) Store(roomID protocol.RoomID, eventName string, evicted []protocol.EventMessage) {
	if a == nil || a.client == nil || len(evicted) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := a.cb.Execute(func() (interface{}, error) {
		values := make([]interface{}, 0, len(evicted))
		for _, msg := range evicted {
			raw, err := json.Marshal(msg)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal history entry: %w", err)
			}
			values = append(values, raw)
		}

		key := archiveKey(roomID, eventName)
		pipe := a.client.TxPipeline()
		pipe.RPush(ctx, key, values...)
		if a.maxLen > 0 {
			pipe.LTrim(ctx, key, -a.maxLen, -1)
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Archive breaker open: dropping evicted batch",
				zap.String("roomId", string(roomID)), zap.String("event", eventName))
			return
		}
		logging.Error(ctx, "Archive store failed", zap.Error(err),
			zap.String("roomId", string(roomID)), zap.String("event", eventName))
	}
}

// Load reads the newest-first window [start, end) from the archive list.
// Satisfies LoadFunc.
func (a *Archive) Load(ctx context.Context, roomID protocol.RoomID, eventName string, start, end int) ([]protocol.EventMessage, error) {
	if a == nil || a.client == nil {
		return nil, nil
	}
	if end <= start || start < 0 {
		return nil, nil
	}

	res, err := a.cb.Execute(func() (interface{}, error) {
		// The list is oldest-first; newest-first position i lives at list
		// index len-1-i, so the window maps to LRANGE with negative bounds.
		key := archiveKey(roomID, eventName)
		return a.client.LRange(ctx, key, int64(-end), int64(-(start + 1))).Result()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Archive breaker open: returning empty history page",
				zap.String("roomId", string(roomID)), zap.String("event", eventName))
			return nil, nil
		}
		return nil, fmt.Errorf("archive load failed: %w", err)
	}

	raws := res.([]string)
	out := make([]protocol.EventMessage, 0, len(raws))
	// Reverse to newest-first.
	for i := len(raws) - 1; i >= 0; i-- {
		var msg protocol.EventMessage
		if err := json.Unmarshal([]byte(raws[i]), &msg); err != nil {
			logging.Error(ctx, "Skipping corrupt archive entry", zap.Error(err),
				zap.String("roomId", string(roomID)), zap.String("event", eventName))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear removes the archive list for a (room, event) pair.
func (a *Archive) Clear(ctx context.Context, roomID protocol.RoomID, eventName string) error {
	if a == nil || a.client == nil {
		return nil
	}
	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, a.client.Del(ctx, archiveKey(roomID, eventName)).Err()
	})
	return err
}

// Ping checks Redis connectivity. Used by health checks.
func (a *Archive) Ping(ctx context.Context) error {
	if a == nil || a.client == nil {
		return nil
	}

	_, err := a.cb.Execute(func() (interface{}, error) {
		return nil, a.client.Ping(ctx).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close shuts down the Redis connection.
func (a *Archive) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
