package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScopeLifecycle(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := root.NewScope("run/1")
	if err != nil {
		t.Fatal(err)
	}

	p, err := s.Put("inbound.ogg", []byte("OggS"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if filepath.Dir(p) != s.Dir() {
		t.Fatalf("artifact %s written outside scope %s", p, s.Dir())
	}
	if _, err := s.Put("inbound.ogg", nil); err == nil {
		t.Fatal("expected error on second write of the same artifact")
	}
	s.Put("inbound.wav", []byte("RIFF"))

	got, err := s.Get("inbound.ogg")
	if err != nil || string(got) != "OggS" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if n := s.Outstanding(); n != 2 {
		t.Fatalf("expected 2 outstanding, got %d", n)
	}

	if err := s.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n := s.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding after release, got %d", n)
	}
	if _, err := os.Stat(s.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("scope dir still present: %v", err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if _, err := s.Put("late", nil); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestFailedReleaseCountsSurvivingScope(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := root.NewScope("r")
	if err != nil {
		t.Fatal(err)
	}
	s.Put("reply.ogg", []byte("OggS"))

	// something outside the scope's bookkeeping keeps the directory non-empty
	stray := filepath.Join(s.Dir(), "stray")
	if err := os.MkdirAll(filepath.Join(stray, "nested"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := s.Release(); err == nil {
		t.Fatal("expected release to fail on a non-empty scope dir")
	}
	if n := s.Outstanding(); n != 1 {
		t.Fatalf("expected surviving scope dir to count as 1, got %d", n)
	}

	if err := os.RemoveAll(stray); err != nil {
		t.Fatal(err)
	}
	if err := s.Release(); err != nil {
		t.Fatalf("retry release: %v", err)
	}
	if n := s.Outstanding(); n != 0 {
		t.Fatalf("expected 0 outstanding after retry, got %d", n)
	}
}

func TestGetMissing(t *testing.T) {
	root, _ := NewRoot(t.TempDir())
	s, _ := root.NewScope("r")
	defer s.Release()
	if _, err := s.Get("nope"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	root, _ := NewRoot(t.TempDir())
	a, _ := root.NewScope("same")
	b, _ := root.NewScope("same")
	defer a.Release()
	defer b.Release()

	if a.Dir() == b.Dir() {
		t.Fatal("two runs share a scope directory")
	}
	a.Put("synth.mp3", []byte("a"))
	b.Put("synth.mp3", []byte("b"))
	ga, _ := a.Get("synth.mp3")
	gb, _ := b.Get("synth.mp3")
	if string(ga) != "a" || string(gb) != "b" {
		t.Fatalf("cross-contaminated artifacts %q %q", ga, gb)
	}
}

func TestSweepRemovesStaleScopes(t *testing.T) {
	dir := t.TempDir()
	root, _ := NewRoot(dir)

	stale, _ := root.NewScope("old")
	stale.Put("x", []byte("x"))
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale.Dir(), past, past); err != nil {
		t.Fatal(err)
	}
	fresh, _ := root.NewScope("new")
	defer fresh.Release()

	keep := filepath.Join(dir, "unrelated")
	os.Mkdir(keep, 0o700)
	os.Chtimes(keep, past, past)

	n, err := root.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if _, err := os.Stat(stale.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale scope survived sweep")
	}
	if _, err := os.Stat(fresh.Dir()); err != nil {
		t.Fatal("fresh scope was swept")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("non-scope directory was swept")
	}
}
