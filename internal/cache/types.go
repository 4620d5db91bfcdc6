package cache

import (
	"errors"
	"time"
)

// ErrItemTooLarge is returned when an item exceeds the cache capacity.
var ErrItemTooLarge = errors.New("item too large for cache")

// Stats holds cache counters.
type Stats struct {
	Capacity  int64
	Size      int64
	ItemCount int64

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64

	LastAccess time.Time
}

// Config configures a Store.
type Config struct {
	// Dir holds the disk tier.
	Dir string
	// Capacity of the disk tier in bytes.
	Capacity int64
	// CompressionLevel is a zstd level; zero disables compression.
	CompressionLevel int
	// MaxAge drops entries older than this on open. Zero keeps everything.
	MaxAge time.Duration
	// MemoryTTL bounds how long entries stay in the memory tier.
	MemoryTTL time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		Capacity:         512 << 20,
		CompressionLevel: 3,
		MaxAge:           30 * 24 * time.Hour,
		MemoryTTL:        10 * time.Minute,
	}
}
