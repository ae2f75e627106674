package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vistone/fingerprint-gateway/internal/quota"
)

const snapshotTTL = time.Hour

// QuotaSnapshotStore persists bucket snapshots to Redis. It backs the
// engine's write-behind persister; nothing on the decision path ever reads
// from it.
type QuotaSnapshotStore struct {
	redis *RedisClient
}

func NewQuotaSnapshotStore(redis *RedisClient) *QuotaSnapshotStore {
	return &QuotaSnapshotStore{redis: redis}
}

func snapshotKey(identity string) string {
	return fmt.Sprintf("quota:snapshot:%s", identity)
}

func (s *QuotaSnapshotStore) WriteSnapshot(ctx context.Context, snap quota.BucketSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal quota snapshot: %w", err)
	}

	return s.redis.Set(ctx, snapshotKey(snap.Identity), payload, snapshotTTL)
}

// ReadSnapshot returns the persisted snapshot for an identity, or nil when
// none exists. Used by the admin quota query to show the last durable state.
func (s *QuotaSnapshotStore) ReadSnapshot(ctx context.Context, identity string) (*quota.BucketSnapshot, error) {
	raw, err := s.redis.Get(ctx, snapshotKey(identity))
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		return nil, err
	}

	var snap quota.BucketSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode quota snapshot: %w", err)
	}

	return &snap, nil
}

// DeleteSnapshot removes the persisted snapshot, used by the admin reset so
// a cleared identity does not leave stale durable state behind.
func (s *QuotaSnapshotStore) DeleteSnapshot(ctx context.Context, identity string) error {
	return s.redis.Del(ctx, snapshotKey(identity))
}
