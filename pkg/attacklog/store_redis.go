package attacklog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStore keeps records in a capped redis list, newest at the head.
// It lets a fleet of honeypots share one collection point.
type RedisStore struct {
	client     *redis.Client
	logger     *logrus.Logger
	keyPrefix  string
	maxRecords int64
	timeout    time.Duration
}

// NewRedisStore connects to redis and verifies the connection before
// returning.
func NewRedisStore(config RedisStoreConfig, logger *logrus.Logger) (*RedisStore, error) {
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "honeypot"
	}
	if config.MaxRecords < 1 {
		config.MaxRecords = 1000
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 3 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"addr":       config.Addr,
		"maxRecords": config.MaxRecords,
	}).Info("Attack log Redis store connected")

	return &RedisStore{
		client:     client,
		logger:     logger,
		keyPrefix:  config.KeyPrefix,
		maxRecords: int64(config.MaxRecords),
		timeout:    config.WriteTimeout,
	}, nil
}

func (s *RedisStore) key() string {
	return s.keyPrefix + ":attacks"
}

// Append pushes one record and trims the list to the retention bound in a
// single pipeline round trip.
func (s *RedisStore) Append(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, s.key(), FormatJSON(rec))
	pipe.LTrim(ctx, s.key(), 0, s.maxRecords-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append attack record: %w", err)
	}
	return nil
}

// Load returns up to max records ordered oldest first. Unparseable list
// entries are skipped.
func (s *RedisStore) Load(max int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stop := int64(max - 1)
	if max <= 0 {
		stop = s.maxRecords - 1
	}
	lines, err := s.client.LRange(ctx, s.key(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load attack records: %w", err)
	}

	// LPush stores newest first; reverse while parsing.
	out := make([]Record, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		rec, err := parseExport([]byte(lines[i]))
		if err != nil {
			s.logger.WithError(err).Warn("Skipping corrupt attack record in Redis")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear deletes the backing list.
func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to clear attack records: %w", err)
	}
	return nil
}

// Close releases the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
