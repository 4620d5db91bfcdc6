package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestStoreRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	audio := bytes.Repeat([]byte("ID3 frame "), 500)

	s := openTestStore(t, DefaultConfig(dir))
	if err := s.Put("k1", audio, "xunfei"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openTestStore(t, DefaultConfig(dir))
	defer s.Close()

	got, backend, ok := s.Get("k1")
	if !ok {
		t.Fatal("entry lost after reopen")
	}
	if !bytes.Equal(got, audio) {
		t.Error("audio differs after reopen")
	}
	if backend != "xunfei" {
		t.Errorf("backend = %q, want xunfei", backend)
	}
}

func TestStoreCompressesLargeEntries(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, DefaultConfig(dir))
	defer s.Close()

	audio := bytes.Repeat([]byte{0}, 64<<10)
	if err := s.Put("zeros", audio, "b"); err != nil {
		t.Fatal(err)
	}

	st, err := os.Stat(filepath.Join(dir, fileName("zeros")))
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() >= int64(len(audio)) {
		t.Errorf("stored %d bytes for %d bytes of zeros, want compression", st.Size(), len(audio))
	}
}

func TestStoreMiss(t *testing.T) {
	s := openTestStore(t, DefaultConfig(t.TempDir()))
	defer s.Close()

	if _, _, ok := s.Get("absent"); ok {
		t.Error("Get() hit on empty store")
	}
	if s.Stats().Misses != 1 {
		t.Errorf("misses = %d, want 1", s.Stats().Misses)
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Capacity = 250
	cfg.CompressionLevel = 0
	s := openTestStore(t, cfg)
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Put(k, bytes.Repeat([]byte(k), 100), "x"); err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	st := s.Stats()
	if st.ItemCount != 2 || st.Evictions != 1 {
		t.Errorf("items = %d evictions = %d, want 2 and 1", st.ItemCount, st.Evictions)
	}
	if st.Size > cfg.Capacity {
		t.Errorf("size %d exceeds capacity %d", st.Size, cfg.Capacity)
	}
}

func TestStoreRejectsOversized(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Capacity = 10
	cfg.CompressionLevel = 0
	s := openTestStore(t, cfg)
	defer s.Close()

	if err := s.Put("big", make([]byte, 100), "x"); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Put() error = %v, want ErrItemTooLarge", err)
	}
}

func TestStoreDropsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, DefaultConfig(dir))
	if err := s.Put("k", bytes.Repeat([]byte("abc"), 1000), "x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, fileName("k")), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	s = openTestStore(t, DefaultConfig(dir))
	defer s.Close()
	if _, _, ok := s.Get("k"); ok {
		t.Error("corrupt entry returned")
	}
	if s.Stats().ItemCount != 0 {
		t.Error("corrupt entry kept in index")
	}
}
