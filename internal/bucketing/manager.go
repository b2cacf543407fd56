package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/zwoods58/WebApp-sub006/internal/config"
)

// BucketingManager spreads wide Scylla partitions (security events per day)
// across a fixed number of murmur3 buckets.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

type BucketAssignment struct {
	EventBucket int    `json:"event_bucket"`
	DateBucket  string `json:"date_bucket"`
}

func NewBucketingManager(cfg config.BucketingConfig) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  max(cfg.UserBuckets, 1),
		eventBuckets: max(cfg.EventBuckets, 1),
	}

	bm.hasherPool = sync.Pool{
		New: func() any {
			return murmur3.New64()
		},
	}

	return bm
}

// GetUserBucket returns a stable bucket in [0, userBuckets).
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// GetEventBucket returns a stable bucket in [0, eventBuckets).
func (bm *BucketingManager) GetEventBucket(key string) int {
	return bm.getBucket(key, bm.eventBuckets)
}

func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AssignEvent places an audit event. Events without a user id are keyed by
// their own id so they still spread evenly.
func (bm *BucketingManager) AssignEvent(userID, eventID string, at time.Time) BucketAssignment {
	key := userID
	if key == "" {
		key = eventID
	}
	return BucketAssignment{
		EventBucket: bm.GetEventBucket(key),
		DateBucket:  bm.GetDateBucket(at),
	}
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}
