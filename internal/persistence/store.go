// Package persistence saves and loads the three learned stores.
//
// Each store is one JSON file in the state directory:
//
//	<dir>/
//	├── coupling.json              ← one record: the matrix snapshot
//	├── families.json              ← one record per family
//	├── entities.json              ← one record per (user, profile)
//	├── <kind>.quarantine.json     ← records that failed validation
//	└── <kind>.corrupt.json        ← last whole file that failed to decode
//
// Files are versioned envelopes written atomically (temp file, fsync,
// rename). Loading re-validates every record, including every numeric
// vector. An invalid record is quarantined and logged at error level; the
// rest still load. A file that cannot be decoded at all is moved aside and
// the store starts fresh.
package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feltd/internal/diag"
)

// SchemaVersion is the envelope version this build writes and reads.
const SchemaVersion = 1

// Record kinds, also the file base names.
const (
	KindCoupling = "coupling"
	KindFamilies = "families"
	KindEntities = "entities"
)

// ErrCorruptFile wraps decode failures of a whole state file.
var ErrCorruptFile = fmt.Errorf("%w: state file", diag.ErrStateCorruption)

// Envelope is the on-disk file format.
type Envelope struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          string            `json:"kind"`
	SavedAt       time.Time         `json:"saved_at"`
	Records       []json.RawMessage `json:"records"`
}

// QuarantinedRecord is one entry in a quarantine file.
type QuarantinedRecord struct {
	QuarantinedAt time.Time       `json:"quarantined_at"`
	Reason        string          `json:"reason"`
	Record        json.RawMessage `json:"record"`
}

// LoadReport summarises one kind's load.
type LoadReport struct {
	Kind        string `json:"kind"`
	Loaded      int    `json:"loaded"`
	Quarantined int    `json:"quarantined"`
	// Fresh is true when no usable file existed.
	Fresh bool `json:"fresh"`
}

// Store reads and writes state files under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewStore creates dir if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("persistence directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir, logger: logger, now: time.Now}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(kind string) string {
	return filepath.Join(s.dir, kind+".json")
}

// QuarantinePath returns where invalid records of kind are kept.
func (s *Store) QuarantinePath(kind string) string {
	return filepath.Join(s.dir, kind+".quarantine.json")
}

func (s *Store) corruptPath(kind string) string {
	return filepath.Join(s.dir, kind+".corrupt.json")
}

// writeEnvelope marshals each record and replaces the kind's file.
func writeEnvelope[T any](s *Store, kind string, records []T) error {
	env := Envelope{
		SchemaVersion: SchemaVersion,
		Kind:          kind,
		SavedAt:       s.now().UTC(),
		Records:       make([]json.RawMessage, 0, len(records)),
	}
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal %s record %d: %w", kind, i, err)
		}
		env.Records = append(env.Records, data)
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(kind), data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", path, err)
	}
	return nil
}

// readEnvelope returns the records of kind. A missing file yields
// (nil, true, nil). A file that cannot be decoded is moved aside and also
// yields fresh, with the decode error.
func (s *Store) readEnvelope(kind string) ([]json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(kind)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	decodeErr := dec.Decode(&env)
	switch {
	case decodeErr != nil:
	case env.SchemaVersion != SchemaVersion:
		decodeErr = fmt.Errorf("schema version %d, want %d", env.SchemaVersion, SchemaVersion)
	case env.Kind != kind:
		decodeErr = fmt.Errorf("kind %q, want %q", env.Kind, kind)
	}
	if decodeErr == nil {
		return env.Records, false, nil
	}

	err = fmt.Errorf("%w %s: %v", ErrCorruptFile, path, decodeErr)
	s.logger.Error("state file corrupt, starting fresh",
		zap.String("kind", kind),
		zap.String("path", path),
		zap.String("moved_to", s.corruptPath(kind)),
		zap.Error(err))
	if rerr := os.Rename(path, s.corruptPath(kind)); rerr != nil {
		s.logger.Error("failed to move corrupt state file aside", zap.String("path", path), zap.Error(rerr))
	}
	return nil, true, err
}

// quarantine appends bad records to the kind's quarantine file.
func (s *Store) quarantine(kind string, bad []QuarantinedRecord) error {
	if len(bad) == 0 {
		return nil
	}
	for _, q := range bad {
		s.logger.Error("quarantined invalid state record",
			zap.String("kind", kind),
			zap.String("reason", q.Reason),
			zap.String("path", s.QuarantinePath(kind)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.QuarantinePath(kind)
	var existing []QuarantinedRecord
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			s.logger.Warn("quarantine file unreadable, replacing", zap.String("path", path), zap.Error(err))
			existing = nil
		}
	}
	existing = append(existing, bad...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal quarantine: %w", err)
	}
	return writeAtomic(path, data)
}

// Quarantined reads the quarantine file for kind.
func (s *Store) Quarantined(kind string) ([]QuarantinedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.QuarantinePath(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []QuarantinedRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: quarantine file: %v", diag.ErrStateCorruption, err)
	}
	return out, nil
}

func (s *Store) reject(raw json.RawMessage, err error) QuarantinedRecord {
	return QuarantinedRecord{QuarantinedAt: s.now().UTC(), Reason: err.Error(), Record: raw}
}
