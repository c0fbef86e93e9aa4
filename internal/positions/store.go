package positions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store caches the zone targets in memory on top of a Repository and
// notifies listeners after every successful change.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners run synchronously on the goroutine that made the change,
//     outside the store lock.
type Store struct {
	repo Repository

	mu        sync.RWMutex
	current   Set
	listeners []func(Set)

	logger Logger
}

// NewStore creates a Store with zero targets. Call Load to read the repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger used for data fault warnings.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// OnChange registers fn to receive the new Set after every change.
func (s *Store) OnChange(fn func(Set)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the cached targets.
func (s *Store) Current() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load refreshes the cache from the repository. Unreadable or missing
// targets fall back to zero with a warning and never fail the caller.
func (s *Store) Load(ctx context.Context) Set {
	set, missing, err := s.repo.Load(ctx)
	if err != nil {
		s.log().Warn("zone targets unreadable, using origin for every zone", "error", err)
		set = Set{}
	} else if len(missing) > 0 {
		s.log().Warn("zone targets missing, using origin", "zones", missing)
	}
	s.replace(set)
	return set
}

// Update saves one zone target and publishes the new Set.
func (s *Store) Update(ctx context.Context, z Zone, t Target) (Set, error) {
	if err := s.repo.Save(ctx, z, t); err != nil {
		return Set{}, err
	}

	s.mu.Lock()
	next, err := s.current.With(z, t)
	if err != nil {
		s.mu.Unlock()
		return Set{}, err
	}
	s.current = next
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// Replace saves every zone of set and publishes it.
func (s *Store) Replace(ctx context.Context, set Set) error {
	for _, z := range Zones {
		t, _ := set.Get(z) //nolint:errcheck // z comes from Zones
		if err := s.repo.Save(ctx, z, t); err != nil {
			return err
		}
	}
	s.replace(set)
	return nil
}

// Bootstrap seeds an empty repository. When no zone has ever been saved,
// targets are imported from legacyPath if that file exists, otherwise
// zeros are written.
func (s *Store) Bootstrap(ctx context.Context, legacyPath string) error {
	_, missing, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("checking zone targets: %w", err)
	}
	if len(missing) < len(Zones) {
		return nil
	}

	set := Set{}
	if legacyPath != "" {
		imported, err := s.importFile(legacyPath)
		switch {
		case err == nil:
			set = imported
			s.log().Info("imported legacy zone targets", "path", legacyPath)
		case errors.Is(err, fs.ErrNotExist):
			s.log().Warn("no zone targets saved yet; every zone is at the origin until taught", "path", legacyPath)
		default:
			s.log().Warn("legacy zone targets unreadable, using origin", "path", legacyPath, "error", err)
		}
	}
	return s.Replace(ctx, set)
}

// ExportFile writes the cached targets in the legacy JSON format.
func (s *Store) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := EncodeLegacy(f, s.Current()); err != nil {
		f.Close() //nolint:errcheck // Encode error takes precedence
		return err
	}
	return f.Close()
}

// ImportFile replaces every zone with the contents of a legacy JSON file.
func (s *Store) ImportFile(ctx context.Context, path string) (Set, error) {
	set, err := s.importFile(path)
	if err != nil {
		return Set{}, err
	}
	if err := s.Replace(ctx, set); err != nil {
		return Set{}, err
	}
	return set, nil
}

func (s *Store) importFile(path string) (Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return Set{}, err
	}
	defer f.Close()

	set, missing, err := DecodeLegacy(f)
	if err != nil {
		return Set{}, err
	}
	if len(missing) > 0 {
		s.log().Warn("legacy file incomplete, missing values set to zero", "path", path, "zones", missing)
	}
	return set, nil
}

func (s *Store) replace(set Set) {
	s.mu.Lock()
	s.current = set
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(set)
	}
}

func (s *Store) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
