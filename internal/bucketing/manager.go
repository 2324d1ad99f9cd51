package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"attendance-service/internal/config"
)

// Manager assigns stable partition buckets for users and audit events so
// Scylla partitions stay bounded as attempt volume grows.
type Manager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// GetUserBucket returns a consistent bucket for a user (0 to userBuckets-1).
func (m *Manager) GetUserBucket(userID string) int {
	return m.getBucket(userID, m.userBuckets)
}

// GetEventBucket returns a bucket for attempt/verdict partitioning.
func (m *Manager) GetEventBucket(identifier string) int {
	return m.getBucket(identifier, m.eventBuckets)
}

// GetTimeBucket returns the start of the time window containing now.
func (m *Manager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// GetDateBucket returns the UTC date partition for audit rows.
func (m *Manager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UserBuckets returns the configured user bucket count.
func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

// EventBuckets returns the configured event bucket count.
func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(m.getHash(key) % uint64(numBuckets))
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
