package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lighthouse-p2p/lighthouse/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	redisRegPrefix   = "lighthouse:reg:"
	redisConnsPrefix = "lighthouse:conns:"
)

type redisRegistration struct {
	PubKey       string `json:"pubKey"`
	Endpoint     string `json:"endpoint"`
	RegisteredAt int64  `json:"registeredAt"`
}

type redisLookup struct {
	Client     string `json:"client"`
	LookedUpAt int64  `json:"lookedUpAt"`
}

// RedisStore backs the registry with redis, for deployments where several
// lighthouse instances share one directory.
type RedisStore struct {
	client *redis.Client
}

func OpenRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) PutRegistration(ctx context.Context, reg Registration) error {
	b, err := json.Marshal(redisRegistration{
		PubKey:       hex.EncodeToString(reg.PubKey),
		Endpoint:     reg.Endpoint.String(),
		RegisteredAt: reg.RegisteredAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	if err := s.client.Set(ctx, redisRegPrefix+reg.ID.String(), b, 0).Err(); err != nil {
		return fmt.Errorf("store registration: %w", err)
	}
	return nil
}

func (s *RedisStore) GetRegistration(ctx context.Context, id types.NodeID) (Registration, error) {
	raw, err := s.client.Get(ctx, redisRegPrefix+id.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Registration{}, ErrNotFound
		}
		return Registration{}, fmt.Errorf("load registration: %w", err)
	}

	var rr redisRegistration
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Registration{}, fmt.Errorf("unmarshal registration: %w", err)
	}

	pub, err := hex.DecodeString(rr.PubKey)
	if err != nil {
		return Registration{}, fmt.Errorf("parse stored public key: %w", err)
	}
	ep, err := types.ParseEndpoint(rr.Endpoint)
	if err != nil {
		return Registration{}, fmt.Errorf("parse stored endpoint: %w", err)
	}

	return Registration{
		ID:           id,
		PubKey:       pub,
		Endpoint:     ep,
		RegisteredAt: time.Unix(rr.RegisteredAt, 0).UTC(),
	}, nil
}

func (s *RedisStore) AppendLookup(ctx context.Context, rec LookupRecord) error {
	b, err := json.Marshal(redisLookup{
		Client:     rec.Client.String(),
		LookedUpAt: rec.LookedUpAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal lookup record: %w", err)
	}

	if err := s.client.RPush(ctx, redisConnsPrefix+rec.ID.String(), b).Err(); err != nil {
		return fmt.Errorf("store lookup record: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookups(ctx context.Context, id types.NodeID) ([]LookupRecord, error) {
	raws, err := s.client.LRange(ctx, redisConnsPrefix+id.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load lookup records: %w", err)
	}

	out := make([]LookupRecord, 0, len(raws))
	for _, raw := range raws {
		var rl redisLookup
		if err := json.Unmarshal([]byte(raw), &rl); err != nil {
			return nil, fmt.Errorf("unmarshal lookup record: %w", err)
		}
		client, err := types.ParseEndpoint(rl.Client)
		if err != nil {
			return nil, fmt.Errorf("parse stored lookup client: %w", err)
		}
		out = append(out, LookupRecord{
			ID:         id,
			Client:     client,
			LookedUpAt: time.Unix(rl.LookedUpAt, 0).UTC(),
		})
	}

	return out, nil
}

func (s *RedisStore) Wipe(ctx context.Context) error {
	for _, prefix := range []string{redisRegPrefix, redisConnsPrefix} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("wipe key: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
