// Package ontology resolves anatomical structure names and identifiers
// against a structural catalog, and turns structure identifiers into boolean
// reference-frame voxel masks.
//
// The catalog is a SQLite database holding one row per structure with its
// full ancestor path; voxel membership comes from an integer annotation
// volume mapping each reference voxel to its finest containing structure.
// Both are read-only for the lifetime of the store.
package ontology

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nbingo/Mouse-voxel-connectivity-simplified/pkg/voxel"
)

// UnknownStructureError reports every name that could not be resolved
// against the catalog, so the caller sees all offenders at once.
type UnknownStructureError struct {
	Names []string
}

func (e *UnknownStructureError) Error() string {
	return fmt.Sprintf("ontology: %v: %s (use full structure names, not acronyms)",
		voxel.ErrUnknownStructure, strings.Join(e.Names, ", "))
}

func (e *UnknownStructureError) Unwrap() error { return voxel.ErrUnknownStructure }

// Structure is one catalog entry. IDPath is the slash-delimited chain of
// ancestor ids from the root down to the structure itself, e.g. "/997/8/567/".
type Structure struct {
	ID       int
	Name     string
	Acronym  string
	ParentID int
	IDPath   string
}

// Store resolves structure names and builds structure masks.
type Store struct {
	db         *sql.DB
	annotation *voxel.Volume
	strict     bool
	log        *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithWarnOnUnknown makes name validation log a warning instead of failing.
// Resolution itself still fails on unknown names so a truncated id list is
// never returned.
func WithWarnOnUnknown() Option {
	return func(s *Store) { s.strict = false }
}

// WithLogger sets the logger used for validation warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens the structure catalog at dbPath and pairs it with the given
// annotation volume. The annotation must be in the reference frame; its
// shape defines the shape of every mask the store produces.
func Open(dbPath string, annotation *voxel.Volume, opts ...Option) (*Store, error) {
	if annotation == nil || !annotation.Dims.Valid() {
		return nil, fmt.Errorf("ontology: open %s: %w: missing annotation volume", dbPath, voxel.ErrShape)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ontology: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ontology: open %s: %w", dbPath, err)
	}

	s := &Store{
		db:         db,
		annotation: annotation,
		strict:     true,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ontology: open %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Shape returns the reference-frame shape of the masks the store produces.
func (s *Store) Shape() voxel.Shape {
	return s.annotation.Dims
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS structures (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		acronym TEXT NOT NULL,
		parent_id INTEGER,
		id_path TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_structures_name ON structures(name);
	CREATE INDEX IF NOT EXISTS idx_structures_id_path ON structures(id_path);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// AddStructure inserts a catalog entry. The engine never calls this; it
// exists for the catalog import tooling and for test fixtures.
func (s *Store) AddStructure(st Structure) error {
	if st.IDPath == "" || !strings.HasPrefix(st.IDPath, "/") || !strings.HasSuffix(st.IDPath, "/") {
		return fmt.Errorf("ontology: add structure %d: %w: id_path must be of the form /a/b/%d/",
			st.ID, voxel.ErrConfiguration, st.ID)
	}
	_, err := s.db.Exec(
		`INSERT INTO structures (id, name, acronym, parent_id, id_path) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Acronym, st.ParentID, st.IDPath,
	)
	if err != nil {
		return fmt.Errorf("ontology: add structure %d: %w", st.ID, err)
	}
	return nil
}

// NamesToIDs maps full structure names to their identifiers, preserving
// order, one id per name. If any name is absent from the catalog the whole
// call fails with an UnknownStructureError naming every offender; a
// truncated list is never returned.
func (s *Store) NamesToIDs(names []string) ([]int, error) {
	ids := make([]int, 0, len(names))
	var missing []string
	for _, name := range names {
		var id int
		err := s.db.QueryRow(`SELECT id FROM structures WHERE name = ?`, name).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			missing = append(missing, name)
		case err != nil:
			return nil, fmt.Errorf("ontology: resolve %q: %w", name, err)
		default:
			ids = append(ids, id)
		}
	}
	if len(missing) > 0 {
		return nil, &UnknownStructureError{Names: missing}
	}
	return ids, nil
}

// ValidateNames checks that every name resolves against the catalog. In
// strict mode (the default) unknown names fail with an
// UnknownStructureError; in warn mode they are logged and the call succeeds.
// The same policy backs both validation and resolution.
func (s *Store) ValidateNames(names []string) error {
	_, err := s.NamesToIDs(names)
	if err == nil {
		return nil
	}
	var unknown *UnknownStructureError
	if errors.As(err, &unknown) && !s.strict {
		s.log.Warn("structure names not found in catalog", "names", unknown.Names)
		return nil
	}
	return err
}

// descendantIDs returns the ids of the structure and all its descendants,
// using the materialized ancestor path.
func (s *Store) descendantIDs(id int) (map[int]bool, error) {
	pattern := fmt.Sprintf("%%/%d/%%", id)
	rows, err := s.db.Query(`SELECT id FROM structures WHERE id_path LIKE ?`, pattern)
	if err != nil {
		return nil, fmt.Errorf("ontology: descendants of %d: %w", id, err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var child int
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("ontology: descendants of %d: %w", id, err)
		}
		out[child] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ontology: descendants of %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, &UnknownStructureError{Names: []string{fmt.Sprintf("id %d", id)}}
	}
	return out, nil
}

// IDsToMask unions the voxel membership masks of the given structures into a
// single boolean reference-frame volume. A voxel belongs to a structure when
// its annotation id is the structure itself or any of its descendants. The
// result is idempotent and independent of the id order.
func (s *Store) IDsToMask(ids []int) (*voxel.Volume, error) {
	members := make(map[int]bool)
	for _, id := range ids {
		descendants, err := s.descendantIDs(id)
		if err != nil {
			return nil, err
		}
		for child := range descendants {
			members[child] = true
		}
	}

	mask := voxel.New(s.annotation.Dims)
	for i, value := range s.annotation.Data {
		if members[int(value)] {
			mask.Data[i] = 1
		}
	}
	return mask, nil
}

// MaskByStructures zeroes every voxel of the volume outside the union mask
// of the named structures.
func (s *Store) MaskByStructures(vol *voxel.Volume, names []string) (*voxel.Volume, error) {
	ids, err := s.NamesToIDs(names)
	if err != nil {
		return nil, err
	}
	mask, err := s.IDsToMask(ids)
	if err != nil {
		return nil, err
	}
	return vol.Mul(mask)
}
