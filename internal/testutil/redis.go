package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FakeRedis implements the Get/Set/Del subset of the go-redis client.
// Expirations are recorded, not enforced.
type FakeRedis struct {
	mu   sync.Mutex
	Data map[string]string
	TTLs map[string]time.Duration
	// Err, when set, is returned by every call.
	Err error
}

func NewFakeRedis() *FakeRedis {
	return &FakeRedis{Data: map[string]string{}, TTLs: map[string]time.Duration{}}
}

func (f *FakeRedis) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Data[key]
	return ok
}

func (f *FakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return redis.NewStringResult("", f.Err)
	}
	v, ok := f.Data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *FakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return redis.NewStatusResult("", f.Err)
	}
	switch v := value.(type) {
	case []byte:
		f.Data[key] = string(v)
	case string:
		f.Data[key] = v
	}
	f.TTLs[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *FakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return redis.NewIntResult(0, f.Err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.Data[k]; ok {
			delete(f.Data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
