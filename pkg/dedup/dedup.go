// Package dedup remembers finished archives in Redis so that several
// harvester processes sharing an output volume skip the same videos.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an archive marker lives.
const DefaultTTL = 30 * 24 * time.Hour

// Marker stores bvid -> archive path under bili-harvest:archived:<bvid>.
type Marker struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarker creates a Marker. A ttl <= 0 uses DefaultTTL.
func NewMarker(rdb *redis.Client, ttl time.Duration) *Marker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Marker{rdb: rdb, ttl: ttl}
}

func key(bvid string) string {
	return fmt.Sprintf("bili-harvest:archived:%s", bvid)
}

// Mark records that bvid has a complete archive at path.
func (m *Marker) Mark(ctx context.Context, bvid, path string) error {
	return m.rdb.Set(ctx, key(bvid), path, m.ttl).Err()
}

// Lookup returns the recorded archive path, or "" when none is known.
func (m *Marker) Lookup(ctx context.Context, bvid string) (string, error) {
	path, err := m.rdb.Get(ctx, key(bvid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return path, err
}

// Forget removes the marker for bvid.
func (m *Marker) Forget(ctx context.Context, bvid string) error {
	return m.rdb.Del(ctx, key(bvid)).Err()
}

// Close closes the underlying redis connection.
func (m *Marker) Close() error {
	return m.rdb.Close()
}
