package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

type memLock struct {
	token   string
	expires time.Time
}

type memoryStore struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]memEntry
	locks     map[string]memLock
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	sweep     time.Duration
}

var _ Store = (*memoryStore)(nil)

// NewInMemory returns a process-local Store. Intended for tests and
// single-process deployments; nothing is shared across processes, so
// stampede protection only covers goroutines within this process.
// sweep controls how often expired entries are cleaned up; non-positive
// defaults to one minute. Expiry is also checked lazily on read.
func NewInMemory(parent context.Context, sweep time.Duration) Store {
	if sweep <= 0 {
		sweep = time.Minute
	}
	ctx, cancel := context.WithCancel(parent)
	s := &memoryStore{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]memEntry),
		locks:   make(map[string]memLock),
		sweep:   sweep,
	}
	s.waitGroup.Add(1)
	go s.run()
	return s
}

func (s *memoryStore) Get(_ context.Context, key string) (bool, []byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false, nil, nil
	}
	if e.expires.Before(time.Now()) {
		delete(s.entries, key)
		return false, nil, nil
	}
	return true, e.data, nil
}

func (s *memoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Newf("store: non-positive ttl %s for key %q", ttl, key)
	}
	s.mutex.Lock()
	s.entries[key] = memEntry{data: val, expires: time.Now().Add(ttl)}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mutex.Unlock()
	return ok, nil
}

func (s *memoryStore) DeleteByPrefix(_ context.Context, prefix string) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	deleted := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expires.Before(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Count(_ context.Context, prefix string) (int, error) {
	now := time.Now()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	count := 0
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && e.expires.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if l, ok := s.locks[key]; ok && l.expires.After(time.Now()) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[key] = memLock{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

func (s *memoryStore) ReleaseLock(_ context.Context, key string, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if l, ok := s.locks[key]; ok && l.token == token {
		delete(s.locks, key)
	}
	return nil
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
	})
	return nil
}

func (s *memoryStore) run() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.mutex.Lock()
			for k, e := range s.entries {
				if e.expires.Before(now) {
					delete(s.entries, k)
				}
			}
			for k, l := range s.locks {
				if l.expires.Before(now) {
					delete(s.locks, k)
				}
			}
			s.mutex.Unlock()
		}
	}
}
