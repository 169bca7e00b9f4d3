package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fdfsweb/gateway/internal/fdfs"
)

const metadataKeyPrefix = "fdfs:meta:"

// CachedStorage caches Metadata lookups of the wrapped Storage in Redis.
// Cache failures are logged and fall through to the backend.
type CachedStorage struct {
	Storage
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStorage wraps next with a Redis metadata cache.
func NewCachedStorage(next Storage, client *redis.Client, ttl time.Duration) *CachedStorage {
	return &CachedStorage{Storage: next, client: client, ttl: ttl}
}

func (s *CachedStorage) Metadata(ctx context.Context, sp fdfs.StorePath) (fdfs.MetaData, error) {
	key := metadataKeyPrefix + sp.FullPath()

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var meta fdfs.MetaData
		if err := json.Unmarshal(data, &meta); err == nil {
			return meta, nil
		}
		log.Printf("storage: drop corrupt metadata cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("storage: metadata cache get %s: %v", key, err)
	}

	meta, err := s.Storage.Metadata(ctx, sp)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(meta); err == nil {
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			log.Printf("storage: metadata cache set %s: %v", key, err)
		}
	}
	return meta, nil
}

func (s *CachedStorage) Delete(ctx context.Context, sp fdfs.StorePath) error {
	if err := s.Storage.Delete(ctx, sp); err != nil {
		return err
	}
	if err := s.client.Del(ctx, metadataKeyPrefix+sp.FullPath()).Err(); err != nil {
		log.Printf("storage: metadata cache invalidate %s: %v", sp, err)
	}
	return nil
}

func (s *CachedStorage) Close() error {
	err := s.Storage.Close()
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close redis: %w", cerr)
	}
	return err
}
