// Package curvestore implements the on-disk curve library: one JSON file
// per saved ReflowCurve, keyed by a UUIDv4 minted on save, matching the
// original program's curve["id"] = str(uuid.uuid4()) plus json.dump
// persistence (§10/I, §12).
package curvestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// ErrNotFound is returned by Get/Update/Delete for an unknown curve id.
var ErrNotFound = errors.New("curve not found")

// Store is a directory of "<id>.json" files, one per saved curve.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("curvestore: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save validates curve, mints a fresh UUIDv4 id (overwriting any id already
// set, mirroring the original's save_curve handler), and writes it to disk.
// It returns the assigned id.
func (s *Store) Save(curve *reflow.Curve) (string, error) {
	if err := curve.Validate(); err != nil {
		return "", err
	}
	curve.ID = uuid.NewString()
	if err := s.write(curve); err != nil {
		return "", err
	}
	return curve.ID, nil
}

// Get loads a curve by id.
func (s *Store) Get(id string) (*reflow.Curve, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("curvestore: read %s: %w", id, err)
	}
	var curve reflow.Curve
	if err := json.Unmarshal(data, &curve); err != nil {
		return nil, fmt.Errorf("curvestore: decode %s: %w", id, err)
	}
	return &curve, nil
}

// Update overwrites an existing curve's contents, keeping its id, matching
// the original's update_curve/{id} 400-on-unknown-id behavior via
// ErrNotFound.
func (s *Store) Update(id string, curve *reflow.Curve) error {
	if err := curve.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("curvestore: stat %s: %w", id, err)
	}
	curve.ID = id
	return s.write(curve)
}

// Delete removes a saved curve. Deleting an unknown id is ErrNotFound,
// mirroring the original's path-existence check.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("curvestore: delete %s: %w", id, err)
	}
	return nil
}

// List returns every saved curve, sorted by id for stable output.
func (s *Store) List() ([]*reflow.Curve, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("curvestore: readdir %s: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)

	curves := make([]*reflow.Curve, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		curves = append(curves, c)
	}
	return curves, nil
}

func (s *Store) write(curve *reflow.Curve) error {
	data, err := json.MarshalIndent(curve, "", "  ")
	if err != nil {
		return fmt.Errorf("curvestore: encode %s: %w", curve.ID, err)
	}
	tmp := s.path(curve.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("curvestore: write %s: %w", curve.ID, err)
	}
	if err := os.Rename(tmp, s.path(curve.ID)); err != nil {
		return fmt.Errorf("curvestore: rename %s: %w", curve.ID, err)
	}
	return nil
}
