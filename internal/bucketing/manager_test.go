package bucketing

import (
	"fmt"
	"testing"
	"time"

	"attendance-service/internal/config"
)

func TestUserBucketDeterministic(t *testing.T) {
	m := NewManager(config.LoadConfig())

	first := m.GetUserBucket("user-42")
	for i := 0; i < 100; i++ {
		if got := m.GetUserBucket("user-42"); got != first {
			t.Fatalf("GetUserBucket() = %d on call %d, want %d", got, i, first)
		}
	}
}

func TestBucketsStayInRange(t *testing.T) {
	m := NewManager(config.LoadConfig())

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("user-%d", i)
		if b := m.GetUserBucket(key); b < 0 || b >= m.UserBuckets() {
			t.Fatalf("GetUserBucket(%q) = %d, out of [0,%d)", key, b, m.UserBuckets())
		}
		if b := m.GetEventBucket(key); b < 0 || b >= m.EventBuckets() {
			t.Fatalf("GetEventBucket(%q) = %d, out of [0,%d)", key, b, m.EventBuckets())
		}
	}
}

func TestGetDateBucketUsesUTC(t *testing.T) {
	m := NewManager(config.LoadConfig())

	loc := time.FixedZone("UTC+7", 7*3600)
	// 02:00 on the 15th in UTC+7 is still the 14th in UTC.
	local := time.Date(2026, 6, 15, 2, 0, 0, 0, loc)
	if got := m.GetDateBucket(local); got != "2026-06-14" {
		t.Errorf("GetDateBucket() = %s, want 2026-06-14", got)
	}
}

func TestGetTimeBucketAligned(t *testing.T) {
	m := NewManager(config.LoadConfig())

	bucket := m.GetTimeBucket(3600)
	if bucket%3600 != 0 {
		t.Errorf("GetTimeBucket(3600) = %d, not aligned to the hour", bucket)
	}
}
