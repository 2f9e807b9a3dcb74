package storage

import (
	"context"
	"fmt"
)

// Medium persists the two fortune collections. Each Save replaces the whole
// collection.
type Medium interface {
	LoadDaily(ctx context.Context) (DailyCache, error)
	SaveDaily(ctx context.Context, c DailyCache) error
	LoadHistory(ctx context.Context) (History, error)
	SaveHistory(ctx context.Context, h History) error
	Close() error
}

// Medium kinds accepted by OpenMedium.
const (
	KindSQLite = "sqlite"
	KindFile   = "file"
	KindRedis  = "redis"
)

// OpenMedium opens the medium named by kind. dataDir is used by the sqlite
// and file media, redisURL by the redis medium.
func OpenMedium(ctx context.Context, kind, dataDir, redisURL string) (Medium, error) {
	switch kind {
	case "", KindSQLite:
		return Open(dataDir)
	case KindFile:
		return OpenFile(dataDir)
	case KindRedis:
		return OpenRedis(ctx, redisURL)
	default:
		return nil, fmt.Errorf("unknown storage medium %q", kind)
	}
}
