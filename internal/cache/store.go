// Package cache keeps stable analysis snapshots in Redis so a position that
// was already searched to the configured depth is served without an engine.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-coach/internal/chess/analysis"
)

const (
	keyPrefix  = "coach:snap:"
	defaultTTL = 24 * time.Hour
	startFEN   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ analysis.SnapshotStore = (*Store)(nil)

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Dial connects to redisURL and checks the connection.
func Dial(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis url required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb, ttl), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Key identifies a snapshot by position, ignoring the move clocks, and by
// the search settings that produced it.
func Key(k analysis.CacheKey) string {
	return fmt.Sprintf("%s%s:d%d:l%d", keyPrefix, positionKey(k.FEN), k.Depth, k.Lines)
}

func positionKey(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return startFEN
	}
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func (s *Store) Load(ctx context.Context, key analysis.CacheKey) (*analysis.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap analysis.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) Save(ctx context.Context, key analysis.CacheKey, snap analysis.Snapshot) error {
	if snap.State != analysis.StateStable {
		return fmt.Errorf("refusing to cache %s snapshot", snap.State)
	}
	snap.Generation = 0
	snap.Cached = false
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, Key(key), raw, s.ttl).Err()
}
