// Package archive tracks, in a local SQLite manifest, which councils'
// archives have already been downloaded and transformed for a given
// publish month — the skip-if-exists bookkeeping behind §4.2 steps 1-2
// ("if the council's GeoJSON already exists ... skip download and
// transform. Else if its archive already exists, skip download but unzip
// and transform."). It does not itself perform the download, unzip, or
// reprojection; internal/ingestion calls back into it to query and record
// state.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// Manifest is the local SQLite cache-state tracker.
type Manifest struct {
	db *sqlx.DB
}

// Entry is one council's cache state for one publish month.
type Entry struct {
	Council       string     `db:"council"`
	PublishMonth  string     `db:"publish_month"` // YYYY-MM
	ArchivePath   string     `db:"archive_path"`
	GeoJSONPath   string     `db:"geojson_path"`
	DownloadedAt  *time.Time `db:"downloaded_at"`
	TransformedAt *time.Time `db:"transformed_at"`
}

// Open creates (if needed) and opens the SQLite manifest at path.
func Open(path string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.FileSystemError(err, "creating archive cache directory")
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.DatabaseError(err, "opening archive cache database")
	}
	db.Exec(`PRAGMA journal_mode = WAL`)

	m := &Manifest{db: db}
	if err := m.initSchema(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		council TEXT NOT NULL,
		publish_month TEXT NOT NULL,
		archive_path TEXT NOT NULL DEFAULT '',
		geojson_path TEXT NOT NULL DEFAULT '',
		downloaded_at DATETIME,
		transformed_at DATETIME,
		PRIMARY KEY (council, publish_month)
	);
	`
	if _, err := m.db.Exec(schema); err != nil {
		return errors.DatabaseError(err, "initializing archive cache schema")
	}
	return nil
}

// Close closes the manifest's database connection.
func (m *Manifest) Close() error {
	return m.db.Close()
}

// Get returns the cache entry for a council/month, or nil if never recorded.
func (m *Manifest) Get(ctx context.Context, council, publishMonth string) (*Entry, error) {
	var e Entry
	err := m.db.GetContext(ctx, &e,
		`SELECT * FROM cache_entries WHERE council = ? AND publish_month = ?`,
		council, publishMonth)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.DatabaseError(err, "reading archive cache entry")
	}
	return &e, nil
}

// HasGeoJSON reports whether this council's month has already been fully
// transformed to GeoJSON on disk, matching the entry's recorded path.
func (m *Manifest) HasGeoJSON(ctx context.Context, council, publishMonth string) (string, bool, error) {
	e, err := m.Get(ctx, council, publishMonth)
	if err != nil || e == nil || e.GeoJSONPath == "" {
		return "", false, err
	}
	if _, statErr := os.Stat(e.GeoJSONPath); statErr != nil {
		return "", false, nil
	}
	return e.GeoJSONPath, true, nil
}

// HasArchive reports whether this council's month already has a downloaded
// zip archive on disk.
func (m *Manifest) HasArchive(ctx context.Context, council, publishMonth string) (string, bool, error) {
	e, err := m.Get(ctx, council, publishMonth)
	if err != nil || e == nil || e.ArchivePath == "" {
		return "", false, err
	}
	if _, statErr := os.Stat(e.ArchivePath); statErr != nil {
		return "", false, nil
	}
	return e.ArchivePath, true, nil
}

// RecordDownload records that a council's archive for a month has been
// downloaded to archivePath.
func (m *Manifest) RecordDownload(ctx context.Context, council, publishMonth, archivePath string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cache_entries (council, publish_month, archive_path, downloaded_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(council, publish_month) DO UPDATE SET
			archive_path = excluded.archive_path,
			downloaded_at = excluded.downloaded_at
	`, council, publishMonth, archivePath)
	if err != nil {
		return errors.DatabaseErrorf(err, "recording archive download for %s", council)
	}
	return nil
}

// RecordTransform records that a council's archive for a month has been
// unzipped and reprojected to geojsonPath.
func (m *Manifest) RecordTransform(ctx context.Context, council, publishMonth, geojsonPath string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO cache_entries (council, publish_month, geojson_path, transformed_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(council, publish_month) DO UPDATE SET
			geojson_path = excluded.geojson_path,
			transformed_at = excluded.transformed_at
	`, council, publishMonth, geojsonPath)
	if err != nil {
		return errors.DatabaseErrorf(err, "recording transform for %s", council)
	}
	return nil
}

// ArchivePathFor derives the on-disk path for a council's raw zip archive,
// filename derived from the council name (§4.2 step 3).
func ArchivePathFor(downloadsDir, council, publishMonth string) string {
	return filepath.Join(downloadsDir, fmt.Sprintf("%s_%s.zip", sanitize(council), publishMonth))
}

// GeoJSONPathFor derives the on-disk path for a council's transformed
// GeoJSON for a publish month.
func GeoJSONPathFor(geojsonDir, council, publishMonth string) string {
	return filepath.Join(geojsonDir, fmt.Sprintf("%s_%s.geojson", sanitize(council), publishMonth))
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '_')
		}
	}
	return string(out)
}
