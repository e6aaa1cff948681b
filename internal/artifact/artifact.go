// Package artifact manages the scratch files a relay run writes between stages.
//
// Each run owns one Scope: a private directory under the configured root. The
// pipeline releases the scope on every exit path; Outstanding reports what a
// release failed to remove.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const scopePrefix = "run-"

// Root is the directory all run scopes are created under.
type Root struct {
	dir string
}

func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "voxrelay")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Root{dir: dir}, nil
}

func (r *Root) Dir() string { return r.dir }

// NewScope creates an empty scope for one run.
func (r *Root) NewScope(runID string) (*Scope, error) {
	dir, err := os.MkdirTemp(r.dir, scopePrefix+sanitize(runID)+"-")
	if err != nil {
		return nil, fmt.Errorf("create run scope: %w", err)
	}
	return &Scope{dir: dir, files: make(map[string]string)}, nil
}

// Sweep removes scopes left behind by a previous process that were last
// modified before the cutoff. It returns the number of directories removed.
func (r *Root) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), scopePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Scope holds the artifacts of a single run.
type Scope struct {
	mu       sync.Mutex
	dir      string
	files    map[string]string // name -> path
	released bool
}

var ErrReleased = errors.New("artifact: scope already released")

func (s *Scope) Dir() string { return s.dir }

// Put writes data as the named artifact. Each name is written once.
func (s *Scope) Put(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return "", ErrReleased
	}
	if _, ok := s.files[name]; ok {
		return "", fmt.Errorf("artifact %q already written", name)
	}

	path := filepath.Join(s.dir, sanitize(name))
	// registered before writing so a partial file is still released
	s.files[name] = path
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact %q: %w", name, err)
	}
	return path, nil
}

func (s *Scope) Get(name string) ([]byte, error) {
	s.mu.Lock()
	path, ok := s.files[name]
	released := s.released
	s.mu.Unlock()

	if released {
		return nil, ErrReleased
	}
	if !ok {
		return nil, fmt.Errorf("artifact %q: %w", name, os.ErrNotExist)
	}
	return os.ReadFile(path)
}

// Outstanding counts artifacts that exist on disk and have not been released.
// After Release, a scope directory that could not be removed counts as one.
func (s *Scope) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.files {
		if _, err := os.Stat(p); err == nil {
			n++
		}
	}
	if s.released && n == 0 {
		if _, err := os.Stat(s.dir); err == nil {
			n++
		}
	}
	return n
}

// Release deletes every artifact and the scope directory. It is idempotent;
// a failed removal is reported and retried by the next call.
func (s *Scope) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.released = true
	var errs []error
	for name, p := range s.files {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %q: %w", name, err))
			continue
		}
		delete(s.files, name)
	}
	if len(errs) == 0 {
		if err := os.Remove(s.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove scope dir: %w", err))
		}
	}
	return errors.Join(errs...)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
