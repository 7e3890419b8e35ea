package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/persona-parley/internal/job"
)

const DefaultCacheTTL = 10 * time.Minute

// cacheScript stores a record unless the cached copy is strictly newer.
// KEYS[1] = record hash; ARGV = version (unix micros), record JSON, ttl ms.
var cacheScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'rec', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// CachedStore fronts a durable Store with Redis. Records are cached only
// after the durable write succeeds, and a miss is never cached, so polling a
// job that has not finished always falls through to the durable store.
// Cache writes are ordered by the record's UpdatedAt: a slow read-through
// can never replace a newer record put in the meantime.
type CachedStore struct {
	next   Store
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewCachedStore(next Store, client redis.UniversalClient, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "parley:result:",
	}
}

func (s *CachedStore) Put(ctx context.Context, rec *job.Record) error {
	if err := s.next.Put(ctx, rec); err != nil {
		return err
	}
	// The cache is never the source of truth. If it cannot take the new
	// record, drop whatever it holds so reads fall through.
	if err := s.fill(ctx, rec); err != nil {
		_ = s.client.Del(ctx, s.key(rec.JobID)).Err()
	}
	return nil
}

func (s *CachedStore) Get(ctx context.Context, jobID string) (*job.Record, error) {
	if raw, err := s.client.HGet(ctx, s.key(jobID), "rec").Bytes(); err == nil {
		var rec job.Record
		if json.Unmarshal(raw, &rec) == nil {
			return &rec, nil
		}
	}

	found, err := s.next.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	_ = s.fill(ctx, found)
	return found, nil
}

func (s *CachedStore) fill(ctx context.Context, rec *job.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return cacheScript.Run(ctx, s.client, []string{s.key(rec.JobID)},
		rec.UpdatedAt.UnixMicro(), body, s.ttl.Milliseconds()).Err()
}

func (s *CachedStore) key(jobID string) string {
	return s.prefix + jobID
}
