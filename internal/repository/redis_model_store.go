package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	domrepo "NiftyQuant/internal/domain/repository"
	applogger "NiftyQuant/pkg/logger"
)

// modelRecord is the value stored under a model key. Digest covers the raw bytes
// so a truncated or edited value is rejected before it reaches the decoder.
type modelRecord struct {
	Checksum string          `json:"checksum"`
	Digest   string          `json:"digest"`
	Model    json.RawMessage `json:"model"`
}

// RedisModelStore persists serialized regime models in Redis without expiry.
type RedisModelStore struct {
	cli redis.Cmdable
	l   *applogger.Logger
}

func NewRedisModelStore(cli redis.Cmdable) *RedisModelStore {
	return &RedisModelStore{cli: cli}
}

// SetLogger injects a structured logger.
func (s *RedisModelStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *RedisModelStore) SaveModel(ctx context.Context, key string, data []byte, checksum string) error {
	b, err := encodeModelRecord(data, checksum)
	if err != nil {
		return fmt.Errorf("encode model record: %w", err)
	}
	if err := s.cli.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set model: %w", err)
	}
	if s.l != nil {
		s.l.Info("regime model saved",
			applogger.String("key", key),
			applogger.String("checksum", checksum),
			applogger.Int("bytes", len(data)),
		)
	}
	return nil
}

func (s *RedisModelStore) LoadModel(ctx context.Context, key string) ([]byte, error) {
	b, err := s.cli.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("redis get model: %w", err)
	}
	var rec modelRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode model record: %w", err)
	}
	if got := digest(rec.Model); got != rec.Digest {
		return nil, fmt.Errorf("model record %s: digest mismatch", key)
	}
	return []byte(rec.Model), nil
}

func encodeModelRecord(data []byte, checksum string) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("model data: %w", err)
	}
	compact := buf.Bytes()
	return json.Marshal(modelRecord{Checksum: checksum, Digest: digest(compact), Model: compact})
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

var _ domrepo.ModelStore = (*RedisModelStore)(nil)
