package runstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWorkspaceFreshDirRemoved(t *testing.T) {
	root := t.TempDir()

	ws, err := Open(Options{Root: root, Prefix: "deck", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if filepath.Dir(ws.Dir) != root {
		t.Fatalf("work dir %q not under root %q", ws.Dir, root)
	}
	touch(t, ws.Path("slide_01.png"))

	if err := ws.Close(true); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("fresh work dir survived Close: %v", err)
	}
	if err := ws.Close(true); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestWorkspaceKeepOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		keep    bool
		success bool
		wantDir bool
	}{
		{"success ignores keep", true, true, false},
		{"failure with keep", true, false, true},
		{"failure without keep", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, err := Open(Options{Root: t.TempDir(), KeepOnFailure: tt.keep, Logger: quietLogger()})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			p := ws.Path("clip_01.mp4")
			touch(t, p)

			_ = ws.Close(tt.success)

			_, err = os.Stat(p)
			if got := err == nil; got != tt.wantDir {
				t.Errorf("intermediate kept = %v, want %v", got, tt.wantDir)
			}
			if _, err := os.Stat(filepath.Join(ws.Dir, runLockDirName)); err == nil {
				t.Errorf("lock left behind")
			}
		})
	}
}

func TestWorkspaceExplicitDirOnlyRemovesTracked(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "final.mp4")
	touch(t, outside)
	untracked := filepath.Join(dir, "deck.html")
	touch(t, untracked)

	ws, err := Open(Options{Dir: dir, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tracked := ws.Path("slide_01.png")
	touch(t, tracked)
	ws.Track(outside)

	if _, err := Open(Options{Dir: dir, Logger: quietLogger()}); err == nil {
		t.Fatal("second Open() on locked dir succeeded")
	}

	if err := ws.Close(true); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(tracked); !os.IsNotExist(err) {
		t.Errorf("tracked file survived: %v", err)
	}
	for _, p := range []string{untracked, outside} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed: %v", p, err)
		}
	}
}
