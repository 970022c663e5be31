package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/arcus"
)

const tokenPairKey = "arcus:token_pair"

// Store defines the contract for caching and persisting adapter state: the
// session token pair, device snapshots, property writes, and the lock audit
// trail.
type Store interface {
	// TokenStore (arcus.TokenStore)
	SaveTokenPair(ctx context.Context, pair arcus.TokenPair) error
	LoadTokenPair(ctx context.Context) (*arcus.TokenPair, error)

	// DeviceStore (arcus.DeviceStore)
	SaveDeviceSnapshot(ctx context.Context, d arcus.Device) error
	RecordPropertySet(ctx context.Context, mac, pid, value string) error
	RecordLockAction(ctx context.Context, uuid, action string, success bool) error

	ListCachedDevices(ctx context.Context) ([]arcus.Device, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is Redis-first with optional Postgres durability. Redis holds
// the token pair and hot device snapshots; Postgres keeps the immutable
// event/audit rows. Either backend may be absent.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. pgURL may be empty
// to run Redis-only.
func NewHybrid(redisAddr string, redisDB int, redisPass, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		DB:       redisDB,
		Password: redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

// SaveTokenPair persists the current session pair, expiring it from Redis at
// the heuristic token expiry.
func (s *HybridStore) SaveTokenPair(ctx context.Context, pair arcus.TokenPair) error {
	ttl := time.Until(pair.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return s.SetJSON(ctx, tokenPairKey, pair, ttl)
}

// LoadTokenPair restores the session pair. A missing key is not an error.
func (s *HybridStore) LoadTokenPair(ctx context.Context) (*arcus.TokenPair, error) {
	var pair arcus.TokenPair
	if err := s.GetJSON(ctx, tokenPairKey, &pair); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

// SaveDeviceSnapshot caches the device in Redis and upserts the durable
// snapshot row.
func (s *HybridStore) SaveDeviceSnapshot(ctx context.Context, d arcus.Device) error {
	if err := s.SetJSON(ctx, "arcus:device:"+d.MAC, d, 24*time.Hour); err != nil {
		s.logger.Warn("store.redis.snapshot_failed", zap.String("mac", d.MAC), zap.Error(err))
	}
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO arcus.device_snapshot (
			mac, nickname, product_model, product_type, is_online, firmware_ver, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (mac) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			product_model = EXCLUDED.product_model,
			product_type = EXCLUDED.product_type,
			is_online = EXCLUDED.is_online,
			firmware_ver = EXCLUDED.firmware_ver,
			updated_at = NOW()
	`, d.MAC, d.Nickname, d.ProductModel, d.ProductType, d.IsOnline, d.FirmwareVer)
	if err != nil {
		s.logger.Error("store.pg.upsert_snapshot_failed", zap.Error(err))
	}
	return err
}

// RecordPropertySet inserts an immutable property-write event.
func (s *HybridStore) RecordPropertySet(ctx context.Context, mac, pid, value string) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO arcus.property_event (mac, pid, value, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, mac, pid, value)
	if err != nil {
		s.logger.Error("store.pg.insert_property_event_failed", zap.Error(err))
	}
	return err
}

// RecordLockAction inserts an immutable lock-audit row. Failed control
// attempts are recorded too.
func (s *HybridStore) RecordLockAction(ctx context.Context, uuid, action string, success bool) error {
	if s.PG == nil {
		return nil
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO arcus.lock_audit (lock_uuid, action, success, recorded_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid, action, success)
	if err != nil {
		s.logger.Error("store.pg.insert_lock_audit_failed", zap.Error(err))
	}
	return err
}

// ListCachedDevices returns the durable device snapshots, most recent first.
func (s *HybridStore) ListCachedDevices(ctx context.Context) ([]arcus.Device, error) {
	if s.PG == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := s.PG.Query(ctx, `
		SELECT mac, nickname, product_model, product_type, is_online, firmware_ver
		FROM arcus.device_snapshot
		ORDER BY updated_at DESC;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []arcus.Device
	for rows.Next() {
		var d arcus.Device
		if err := rows.Scan(&d.MAC, &d.Nickname, &d.ProductModel, &d.ProductType,
			&d.IsOnline, &d.FirmwareVer); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// SetJSON stores an arbitrary JSON value in Redis with a TTL.
func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

// GetJSON fetches and decodes a JSON value from Redis. Returns redis.Nil
// (wrapped) when the key is absent.
func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// HealthCheck pings both backends.
func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Close releases both backends.
func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	return s.redis.Close()
}
