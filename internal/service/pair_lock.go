package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PairLocker serialises submission creation for one (exercise, student) pair.
type PairLocker interface {
	Lock(ctx context.Context, exerciseID, userID uint) (func(), error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisPairLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisPairLocker builds a lock shared by every API instance. The TTL bounds how long a crashed holder blocks the pair.
func NewRedisPairLocker(client *redis.Client, ttl time.Duration) PairLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisPairLocker{client: client, ttl: ttl, wait: 5 * time.Second, retry: 50 * time.Millisecond}
}

func (l *redisPairLocker) Lock(ctx context.Context, exerciseID, userID uint) (func(), error) {
	key := fmt.Sprintf("astra:lock:submission:%d:%d", exerciseID, userID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire submission lock: %w", err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

type localPairLocker struct {
	mu    sync.Mutex
	locks map[string]*pairEntry
}

// pairEntry is shared by the holder and the waiters of one pair. It leaves the map when the
// last of them releases it.
type pairEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocalPairLocker builds an in-process lock for single instance deployments and tests.
func NewLocalPairLocker() PairLocker {
	return &localPairLocker{locks: make(map[string]*pairEntry)}
}

func (l *localPairLocker) Lock(ctx context.Context, exerciseID, userID uint) (func(), error) {
	key := fmt.Sprintf("%d:%d", exerciseID, userID)
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &pairEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *localPairLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
