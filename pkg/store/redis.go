package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/session"
)

const maxTxAttempts = 10

// Redis stores session documents as JSON strings. Each write runs in a
// WATCH/MULTI transaction that bumps the version, maintains the per-status
// index and publishes the new document on the session's channel, so
// publication order matches commit order.
type Redis struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis wraps an existing client. prefix namespaces every key.
func NewRedis(rdb *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "duel"
	}

	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

// DialRedis connects to the server at rawURL (redis:// or rediss://) and
// pings it.
func DialRedis(ctx context.Context, rawURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr))

	return NewRedis(rdb, "", logger), nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) docKey(id string) string {
	return r.prefix + ":session:" + id
}

func (r *Redis) statusKey(s session.Status) string {
	return r.prefix + ":status:" + string(s)
}

func (r *Redis) channel(id string) string {
	return r.prefix + ":session:" + id + ":updates"
}

// Create stores a new session at version 1.
func (r *Redis) Create(ctx context.Context, s session.GameSession) (session.GameSession, error) {
	s = s.Clone()
	s.Version = 1

	data, err := json.Marshal(s)
	if err != nil {
		return session.GameSession{}, fmt.Errorf("encode session: %w", err)
	}

	key := r.docKey(s.ID)
	err = r.transact(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.statusKey(s.Status), s.ID)
			pipe.Publish(ctx, r.channel(s.ID), data)
			return nil
		})
		return err
	})
	if err != nil {
		return session.GameSession{}, err
	}

	r.logger.Debug("session created", zap.String("session_id", s.ID))

	return s, nil
}

// Read returns the latest committed document.
func (r *Redis) Read(ctx context.Context, id string) (session.GameSession, error) {
	raw, err := r.rdb.Get(ctx, r.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.GameSession{}, ErrNotFound
	}
	if err != nil {
		return session.GameSession{}, err
	}

	return decode(raw)
}

// Write replaces the document, optionally conditioned on expected.
func (r *Redis) Write(ctx context.Context, s session.GameSession, expected int64) (session.GameSession, error) {
	key := r.docKey(s.ID)
	next := s.Clone()

	err := r.transact(ctx, key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		cur, err := decode(raw)
		if err != nil {
			return err
		}
		if expected != AnyVersion && cur.Version != expected {
			return ErrVersionConflict
		}

		next.Version = cur.Version + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if cur.Status != next.Status {
				pipe.SRem(ctx, r.statusKey(cur.Status), next.ID)
				pipe.SAdd(ctx, r.statusKey(next.Status), next.ID)
			}
			pipe.Publish(ctx, r.channel(next.ID), data)
			return nil
		})
		return err
	})
	if err != nil {
		return session.GameSession{}, err
	}

	r.logger.Debug("session written",
		zap.String("session_id", next.ID),
		zap.Int64("version", next.Version),
		zap.String("status", string(next.Status)),
	)

	return next, nil
}

// transact runs fn under WATCH key, retrying when a concurrent writer
// invalidates the transaction.
func (r *Redis) transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := r.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return ErrVersionConflict
}

// Subscribe listens on the session channel before reading the current
// document, so no committed version can fall between the two.
func (r *Redis) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	pubsub := r.rdb.Subscribe(ctx, r.channel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	cur, err := r.Read(ctx, id)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	f := newFeed()
	f.push(cur)

	ctx, cancel := context.WithCancel(ctx)
	msgs := pubsub.Channel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				s, err := decode([]byte(msg.Payload))
				if err != nil {
					r.logger.Warn("dropping undecodable update",
						zap.String("session_id", id),
						zap.Error(err),
					)
					continue
				}
				f.push(s)
			}
		}
	}()

	return newSubscription(ctx, f, func() {
		cancel()
		_ = pubsub.Close()
	}), nil
}

// List returns summaries of every session in status.
func (r *Redis) List(ctx context.Context, status session.Status) ([]session.Summary, error) {
	ids, err := r.rdb.SMembers(ctx, r.statusKey(status)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}

	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]session.Summary, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		s, err := decode([]byte(raw))
		if err != nil {
			r.logger.Warn("skipping undecodable session", zap.String("session_id", ids[i]), zap.Error(err))
			continue
		}
		if s.Status == status {
			out = append(out, s.Summarize())
		}
	}

	sortSummaries(out)

	return out, nil
}

func decode(raw []byte) (session.GameSession, error) {
	var s session.GameSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return session.GameSession{}, fmt.Errorf("decode session: %w", err)
	}

	return s, nil
}
