package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"broadcast-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var ErrLockBusy = errors.New("dispatch: already in progress")

// Slots caps work across processes. release must be called exactly once.
type Slots interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Locker hands out exclusive, expiring locks.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

func CampaignLockKey(campaignID string) string { return "dispatch:lock:campaign:" + campaignID }

func WorkspaceSlotsKey(workspaceID string) string {
	return "dispatch:slots:workspace:" + workspaceID
}

// RedisSlots polls a shared counter until a slot frees up.
type RedisSlots struct {
	Client redis.Scripter
	Key    string
	Limit  int
	TTL    time.Duration
	Poll   time.Duration
}

func (s RedisSlots) Acquire(ctx context.Context) (func(), error) {
	poll := s.Poll
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	for {
		ok, err := utils.AcquireConcurrencyCap(ctx, s.Client, s.Key, s.Limit, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return s.releaser(ctx), nil
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return nil, err
		}
	}
}

func (s RedisSlots) releaser(ctx context.Context) func() {
	var once sync.Once
	bg := context.WithoutCancel(ctx)
	return func() {
		once.Do(func() {
			_ = utils.ReleaseConcurrencyCap(bg, s.Client, s.Key)
		})
	}
}

// RedisLocker is a limit-1 concurrency cap. The TTL frees locks left behind
// by a crashed process.
type RedisLocker struct {
	Client redis.Scripter
	TTL    time.Duration
}

func (l RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, l.Client, key, 1, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}
	var once sync.Once
	bg := context.WithoutCancel(ctx)
	return func() {
		once.Do(func() { _ = utils.ReleaseConcurrencyCap(bg, l.Client, key) })
	}, nil
}

// MemoryLocker is an in-process Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLockBusy
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
