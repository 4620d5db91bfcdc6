package cache

import gocache "github.com/patrickmn/go-cache"

type memEntry struct {
	audio   []byte
	backend string
}

// Store is a two-tier audio cache. It implements speech.AudioCache.
type Store struct {
	mem  *gocache.Cache
	disk *diskTier
}

// Open opens (or creates) a store under cfg.Dir.
func Open(cfg Config) (*Store, error) {
	def := DefaultConfig(cfg.Dir)
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = def.MemoryTTL
	}

	disk, err := openDiskTier(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{
		mem:  gocache.New(cfg.MemoryTTL, 2*cfg.MemoryTTL),
		disk: disk,
	}, nil
}

// Get returns cached audio and the backend that produced it.
func (s *Store) Get(key string) ([]byte, string, bool) {
	if v, ok := s.mem.Get(key); ok {
		e := v.(memEntry)
		return e.audio, e.backend, true
	}
	audio, backend, ok := s.disk.get(key)
	if ok {
		s.mem.SetDefault(key, memEntry{audio: audio, backend: backend})
	}
	return audio, backend, ok
}

// Put stores audio in both tiers.
func (s *Store) Put(key string, audio []byte, backend string) error {
	if err := s.disk.put(key, audio, backend); err != nil {
		return err
	}
	s.mem.SetDefault(key, memEntry{audio: audio, backend: backend})
	return nil
}

// Stats reports disk tier counters.
func (s *Store) Stats() Stats {
	return s.disk.snapshot()
}

// Close persists the index.
func (s *Store) Close() error {
	s.mem.Flush()
	return s.disk.close()
}
