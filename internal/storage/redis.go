package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManyThreads/horme/core/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultRedisPrefix = "horme:"
	maxTxRetries       = 5
)

type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Prefix namespaces every key, defaulting to "horme:".
	Prefix string
	// ConnectTimeout bounds the initial connection attempts.
	ConnectTimeout time.Duration
}

// RedisStorage keeps entries as JSON in a hash, with a sorted set recording creation order.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

var _ PersistentStorage = &RedisStorage{}

// NewRedisStorage connects to redis, retrying with exponential backoff until the connect
// timeout expires.
func NewRedisStorage(ctx context.Context, opts *RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := ping(ctx, client, opts.Addr, opts.ConnectTimeout); err != nil {
		client.Close()
		return nil, err
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}, nil
}

func ping(ctx context.Context, client *redis.Client, addr string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := client.Ping(ctx).Err()
		if err == nil {
			log.Info().Str("addr", addr).Int("attempts", attempt).Msg("connected to redis")
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", addr, attempt, err)
		case <-timer.C:
			log.Warn().Err(err).Str("addr", addr).Int("attempt", attempt).Msg("redis connection failed, retrying")
			wait = min(wait*2, 2*time.Second)
		}
	}
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) entriesKey() string {
	return s.prefix + "services"
}

func (s *RedisStorage) orderKey() string {
	return s.prefix + "services:order"
}

func (s *RedisStorage) seqKey() string {
	return s.prefix + "services:seq"
}

func (s *RedisStorage) CreateService(ctx context.Context, unInit service.UnInitServiceEntry) (*service.ServiceEntry, error) {
	entry := &service.ServiceEntry{
		UUID:      uuid.New().String(),
		Type:      unInit.Type,
		Room:      unInit.Room,
		DependsOn: []service.UUID{},
	}
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entriesKey(), entry.UUID, data)
		pipe.ZAdd(ctx, s.orderKey(), redis.Z{Score: float64(seq), Member: entry.UUID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

func (s *RedisStorage) UpdateService(ctx context.Context, entry *service.ServiceEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	data, err := json.Marshal(entry.Clone())
	if err != nil {
		return err
	}

	update := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.entriesKey(), entry.UUID).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrServiceNotFound
		} else if err != nil {
			return err
		}
		var prev service.ServiceEntry
		if err := json.Unmarshal(raw, &prev); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.entriesKey(), entry.UUID, data)
			return nil
		})
		if err == nil {
			logEntryDiff(&prev, entry)
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, update, s.entriesKey())
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("updating service %s: %w", entry.UUID, err)
}

func (s *RedisStorage) RemoveService(ctx context.Context, id service.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.entriesKey(), id)
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	return err
}

func (s *RedisStorage) QueryServices(ctx context.Context) ([]*service.ServiceEntry, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*service.ServiceEntry, 0, len(ids))
	if len(ids) == 0 {
		return res, nil
	}

	values, err := s.client.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}
		entry, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding service %s: %w", ids[i], err)
		}
		res = append(res, entry)
	}
	return res, nil
}

func (s *RedisStorage) QueryService(ctx context.Context, id service.UUID) (*service.ServiceEntry, bool, error) {
	raw, err := s.client.HGet(ctx, s.entriesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (s *RedisStorage) QueryServicesInRoom(ctx context.Context, room string) ([]*service.ServiceEntry, error) {
	all, err := s.QueryServices(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*service.ServiceEntry, 0)
	for _, entry := range all {
		if entry.Room == room {
			res = append(res, entry)
		}
	}
	return res, nil
}

func decodeEntry(raw []byte) (*service.ServiceEntry, error) {
	var entry service.ServiceEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}
