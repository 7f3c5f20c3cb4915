// Package locations persists named destinations the user can navigate to by
// voice or by name.
package locations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/routing"
)

var (
	ErrNotFound    = errors.New("location not found")
	ErrInvalidName = errors.New("location name is empty")
)

// Location is one saved destination.
type Location struct {
	Key         string    `json:"-"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Description string    `json:"description"`
	SavedAt     time.Time `json:"saved_at"`
}

// Coordinate returns the location as a routing coordinate.
func (l Location) Coordinate() routing.Coordinate {
	return routing.Coordinate{Lat: l.Lat, Lon: l.Lon}
}

// Key normalizes a spoken or typed name: lower case, runs of whitespace
// become one underscore.
func Key(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// Store is a JSON file of saved locations keyed by Key(name). An empty path
// keeps locations in memory only. Safe for concurrent use.
type Store struct {
	path   string
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	locations map[string]Location
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		logger:    logger,
		now:       time.Now,
		locations: make(map[string]Location),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info().Str("path", path).Msg("No saved locations yet")
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.locations); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for key, loc := range s.locations {
		loc.Key = key
		s.locations[key] = loc
	}

	logger.Info().Str("path", path).Int("count", len(s.locations)).Msg("Loaded saved locations")
	return s, nil
}

// Add saves or replaces the location called name.
func (s *Store) Add(ctx context.Context, name string, coord routing.Coordinate, description string) (Location, error) {
	key := Key(name)
	if key == "" {
		return Location{}, ErrInvalidName
	}
	if !coord.Valid() {
		return Location{}, fmt.Errorf("%w: %s", routing.ErrInvalidCoordinate, coord)
	}
	if description == "" {
		description = strings.TrimSpace(name)
	}

	loc := Location{
		Key:         key,
		Lat:         coord.Lat,
		Lon:         coord.Lon,
		Description: description,
		SavedAt:     s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.locations[key]
	s.locations[key] = loc
	if err := s.persist(); err != nil {
		if existed {
			s.locations[key] = prev
		} else {
			delete(s.locations, key)
		}
		return Location{}, err
	}

	s.logger.Info().Str("key", key).Str("coordinate", coord.String()).Msg("Location saved")
	return loc, nil
}

// Get finds a location by exact key, then by the first key (in sorted
// order) containing the query.
func (s *Store) Get(ctx context.Context, name string) (Location, error) {
	key := Key(name)
	if key == "" {
		return Location{}, ErrInvalidName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if loc, ok := s.locations[key]; ok {
		return loc, nil
	}
	for _, k := range s.sortedKeys() {
		if strings.Contains(k, key) {
			return s.locations[k], nil
		}
	}
	return Location{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// List returns all locations sorted by key.
func (s *Store) List(ctx context.Context) []Location {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Location, 0, len(s.locations))
	for _, k := range s.sortedKeys() {
		out = append(out, s.locations[k])
	}
	return out
}

// Delete removes the location with the exact key of name.
func (s *Store) Delete(ctx context.Context, name string) error {
	key := Key(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.locations[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.locations, key)
	if err := s.persist(); err != nil {
		s.locations[key] = prev
		return err
	}

	s.logger.Info().Str("key", key).Msg("Location deleted")
	return nil
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.locations))
	for k := range s.locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// persist writes the file through a temp file and rename. Must be called
// with s.mu held.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.locations, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode locations: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".locations-*.json")
	if err != nil {
		return fmt.Errorf("failed to write locations: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write locations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write locations: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write locations: %w", err)
	}
	return nil
}
