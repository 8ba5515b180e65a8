// Package state persists the build ledger: which version of each
// source was last packaged, with what runtime, into which files. The
// pipeline consults it to skip rebuilds of a version already packaged.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/portelect/portelect/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS builds (
    source          TEXT NOT NULL,
    version         TEXT NOT NULL,
    runtime_version TEXT NOT NULL DEFAULT '',
    packages        TEXT NOT NULL DEFAULT '[]',
    built_at        TEXT NOT NULL,
    PRIMARY KEY (source, version)
);
`

type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open build ledger: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record upserts the ledger row for the build's source and version.
func (s *SQLiteStore) Record(rec domain.BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	packages, err := json.Marshal(rec.Packages)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO builds
		(source, version, runtime_version, packages, built_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(rec.Source), rec.Version.String(), rec.RuntimeVersion.String(),
		string(packages), rec.BuiltAt.UTC().Format(time.RFC3339))
	return err
}

// LastBuilt returns the most recent ledger row for a source, or nil
// when the source has never been built.
func (s *SQLiteStore) LastBuilt(source domain.SourceKind) (*domain.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT source, version, runtime_version, packages, built_at
		FROM builds WHERE source = ?
		ORDER BY built_at DESC LIMIT 1`, string(source))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History lists every recorded build for a source, newest first.
func (s *SQLiteStore) History(source domain.SourceKind) ([]domain.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT source, version, runtime_version, packages, built_at
		FROM builds WHERE source = ?
		ORDER BY built_at DESC`, string(source))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.BuildRecord, error) {
	var source, version, runtime, packages, builtAt string
	if err := row.Scan(&source, &version, &runtime, &packages, &builtAt); err != nil {
		return nil, err
	}

	rec := domain.BuildRecord{Source: domain.SourceKind(source)}

	var err error
	if rec.Version, err = domain.ParseVersion(version); err != nil {
		return nil, fmt.Errorf("corrupt ledger version %q: %w", version, err)
	}
	if runtime != "" && runtime != "unknown" {
		if rec.RuntimeVersion, err = domain.ParseVersion(runtime); err != nil {
			return nil, fmt.Errorf("corrupt ledger runtime version %q: %w", runtime, err)
		}
	}
	if err := json.Unmarshal([]byte(packages), &rec.Packages); err != nil {
		return nil, fmt.Errorf("corrupt ledger packages: %w", err)
	}
	rec.BuiltAt, _ = time.Parse(time.RFC3339, builtAt)

	return &rec, nil
}
