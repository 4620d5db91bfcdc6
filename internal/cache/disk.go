package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "audio.index"

	// compressThreshold skips compression for tiny payloads.
	compressThreshold = 1024
)

// diskEntry is one indexed file in the disk tier.
type diskEntry struct {
	Key        string
	Backend    string
	FileName   string
	Size       int64 // on disk
	RawSize    int64
	Created    time.Time
	LastAccess time.Time
	Compressed bool
}

// diskTier stores entries as files under dir with a gob index.
type diskTier struct {
	dir      string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry
	mu    sync.Mutex
	stats Stats
}

func openDiskTier(cfg Config) (*diskTier, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	d := &diskTier{
		dir:      cfg.Dir,
		capacity: cfg.Capacity,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Capacity: cfg.Capacity},
	}

	if cfg.CompressionLevel > 0 {
		var err error
		d.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		d.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	if err := d.loadIndex(); err != nil {
		// A damaged index only costs a cold cache.
		d.index = make(map[string]*diskEntry)
	}

	if cfg.MaxAge > 0 {
		cutoff := time.Now().Add(-cfg.MaxAge)
		for k, e := range d.index {
			if e.Created.Before(cutoff) {
				d.removeLocked(k)
			}
		}
	}
	for _, e := range d.index {
		d.size += e.Size
	}
	return d, nil
}

func (d *diskTier) get(key string) ([]byte, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.index[key]
	if !ok {
		d.stats.Misses++
		return nil, "", false
	}

	data, err := os.ReadFile(filepath.Join(d.dir, e.FileName))
	if err != nil {
		d.removeLocked(key)
		d.stats.Misses++
		return nil, "", false
	}

	if e.Compressed {
		if d.decoder == nil {
			d.removeLocked(key)
			d.stats.Misses++
			return nil, "", false
		}
		raw, err := d.decoder.DecodeAll(data, nil)
		if err != nil || int64(len(raw)) != e.RawSize {
			d.removeLocked(key)
			d.stats.Misses++
			return nil, "", false
		}
		data = raw
	}

	e.LastAccess = time.Now()
	d.stats.Hits++
	d.stats.LastAccess = e.LastAccess
	return data, e.Backend, true
}

func (d *diskTier) put(key string, value []byte, backend string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload := value
	compressed := false
	if d.encoder != nil && len(value) > compressThreshold {
		if c := d.encoder.EncodeAll(value, nil); len(c) < len(value) {
			payload = c
			compressed = true
		}
	}

	size := int64(len(payload))
	if size > d.capacity {
		return ErrItemTooLarge
	}
	if _, ok := d.index[key]; ok {
		d.removeLocked(key)
	}
	for d.size+size > d.capacity && len(d.index) > 0 {
		d.evictOldest()
	}

	name := fileName(key)
	if err := writeFile(filepath.Join(d.dir, name), payload); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	now := time.Now()
	d.index[key] = &diskEntry{
		Key:        key,
		Backend:    backend,
		FileName:   name,
		Size:       size,
		RawSize:    int64(len(value)),
		Created:    now,
		LastAccess: now,
		Compressed: compressed,
	}
	d.size += size
	return nil
}

func (d *diskTier) snapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Size = d.size
	s.ItemCount = int64(len(d.index))
	if s.Hits+s.Misses > 0 {
		s.HitRate = float64(s.Hits) / float64(s.Hits+s.Misses)
	}
	return s
}

func (d *diskTier) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder != nil {
		_ = d.encoder.Close()
	}
	if d.decoder != nil {
		d.decoder.Close()
	}
	return d.saveIndex()
}

func (d *diskTier) removeLocked(key string) {
	e, ok := d.index[key]
	if !ok {
		return
	}
	_ = os.Remove(filepath.Join(d.dir, e.FileName))
	d.size -= e.Size
	delete(d.index, key)
}

func (d *diskTier) evictOldest() {
	var oldest string
	var at time.Time
	for k, e := range d.index {
		if oldest == "" || e.LastAccess.Before(at) {
			oldest, at = k, e.LastAccess
		}
	}
	if oldest != "" {
		d.removeLocked(oldest)
		d.stats.Evictions++
	}
}

func (d *diskTier) loadIndex() error {
	f, err := os.Open(filepath.Join(d.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return gob.NewDecoder(f).Decode(&d.index)
}

func (d *diskTier) saveIndex() error {
	path := filepath.Join(d.dir, indexFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(d.index)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".audio"
}

// writeFile writes through a temp file so readers never see partial data.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
