package store

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/geometry"
)

// ownershipChunkSize bounds how many rows go into a single upsert/delete
// statement to keep parameter counts and transaction size in check for
// large batch jobs.
const ownershipChunkSize = 500

// Store wraps a PostgreSQL+PostGIS connection pool providing the
// transactional write surface for Ownership, AcceptedBoundary,
// PendingBoundary and PendingDeletion.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store, verifying connectivity before returning.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.ConfigError("postgres DSN is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.DatabaseError(err, "creating postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.DatabaseError(err, "connecting to postgres")
	}

	logger := slog.Default().With("component", "store")
	logger.Info("store connected")

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("store closed")
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return errors.DatabaseError(err, "store health check failed")
	}
	return nil
}

// Migrate creates the tables this store needs if they do not already exist,
// including the spatial index PostGIS query performance requires (§6).
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		`CREATE TABLE IF NOT EXISTS ownership (
			title_no text PRIMARY KEY,
			tenure text NOT NULL DEFAULT '',
			property_address text NOT NULL DEFAULT '',
			postcode text NOT NULL DEFAULT '',
			proprietors jsonb NOT NULL DEFAULT '[]',
			date_proprietor_added date,
			uk_based boolean NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS accepted_boundary (
			poly_id text PRIMARY KEY,
			title_no text,
			geom geometry(Polygon, 4326) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS accepted_boundary_geom_idx ON accepted_boundary USING GIST (geom)`,
		`CREATE TABLE IF NOT EXISTS pending_boundary (
			id bigserial PRIMARY KEY,
			poly_id text NOT NULL,
			council text NOT NULL,
			geom geometry(Polygon, 4326) NOT NULL,
			accepted boolean NOT NULL DEFAULT false,
			match_type text,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE (poly_id)
		)`,
		`CREATE INDEX IF NOT EXISTS pending_boundary_geom_idx ON pending_boundary USING GIST (geom)`,
		`CREATE TABLE IF NOT EXISTS pending_deletion (
			poly_id text PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS run_ledger (
			unique_key text PRIMARY KEY,
			status text NOT NULL,
			started_at timestamptz NOT NULL DEFAULT now(),
			options jsonb NOT NULL DEFAULT '{}',
			last_task text,
			last_council_downloaded text,
			last_poly_analysed bigint NOT NULL DEFAULT 0,
			latest_ownership_data date,
			latest_inspire_data date,
			consecutive_stalls int NOT NULL DEFAULT 0
		)`,
		// At most one running row at any time (§3): StartNewRun relies on this
		// index, not an application-level check, to reject a concurrent start.
		`CREATE UNIQUE INDEX IF NOT EXISTS run_ledger_one_running_idx ON run_ledger ((1)) WHERE status = 'running'`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.DatabaseError(err, "running store migration")
		}
	}
	return nil
}

// UpsertOwnerships applies additions ('A' rows) in chunks, inserting new
// titles or overwriting existing ones (§4.1: "upserted on 'A'").
func (s *Store) UpsertOwnerships(ctx context.Context, rows []Ownership) error {
	for start := 0; start < len(rows); start += ownershipChunkSize {
		end := start + ownershipChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := s.upsertOwnershipChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertOwnershipChunk(ctx context.Context, chunk []Ownership) error {
	batch := &pgx.Batch{}
	for _, row := range chunk {
		proprietorsJSON, err := json.Marshal(row.Proprietors)
		if err != nil {
			return errors.DataRowErrorf(err, "marshalling proprietors for title %s", row.TitleNo)
		}
		batch.Queue(`
			INSERT INTO ownership (title_no, tenure, property_address, postcode, proprietors, date_proprietor_added, uk_based)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (title_no) DO UPDATE SET
				tenure = EXCLUDED.tenure,
				property_address = EXCLUDED.property_address,
				postcode = EXCLUDED.postcode,
				proprietors = EXCLUDED.proprietors,
				date_proprietor_added = EXCLUDED.date_proprietor_added,
				uk_based = EXCLUDED.uk_based
		`, row.TitleNo, row.Tenure, row.PropertyAddress, row.Postcode,
			proprietorsJSON, row.DateProprietorAdded, row.UKBased)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return errors.DatabaseErrorf(err, "upserting ownership row %d of chunk", i)
		}
	}
	return nil
}

// DeleteOwnershipsByTitleNo removes titles named by a 'D' change-only row
// (§4.1: "applying deletions then upserts"), in chunks.
func (s *Store) DeleteOwnershipsByTitleNo(ctx context.Context, titleNos []string) error {
	for start := 0; start < len(titleNos); start += ownershipChunkSize {
		end := start + ownershipChunkSize
		if end > len(titleNos) {
			end = len(titleNos)
		}
		chunk := titleNos[start:end]
		if _, err := s.pool.Exec(ctx, `DELETE FROM ownership WHERE title_no = ANY($1)`, chunk); err != nil {
			return errors.DatabaseError(err, "deleting ownership rows")
		}
	}
	return nil
}

// TruncatePending clears PendingBoundary and PendingDeletion at the start of
// a non-resumed run (§9: "Truncated at start of a non-resumed run").
func (s *Store) TruncatePending(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE pending_boundary, pending_deletion`); err != nil {
		return errors.DatabaseError(err, "truncating pending tables")
	}
	return nil
}

// UpsertPendingBoundary inserts or, on re-ingestion of a restarted council,
// overwrites a candidate boundary keyed by poly_id (§4.2 step 5: "the
// council restarts cleanly and converges").
func (s *Store) UpsertPendingBoundary(ctx context.Context, council, polyID string, geom geometry.Polygon) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_boundary (poly_id, council, geom)
		VALUES ($1, $2, ST_GeomFromText($3, 4326))
		ON CONFLICT (poly_id) DO UPDATE SET
			council = EXCLUDED.council,
			geom = EXCLUDED.geom,
			accepted = false,
			match_type = NULL,
			updated_at = now()
	`, polyID, council, geom.ToWKT())
	if err != nil {
		return errors.DatabaseErrorf(err, "upserting pending boundary %s", polyID)
	}
	return nil
}

// PendingBoundaryInsert is one feature streamed out of a council's
// reprojected GeoJSON, ready to upsert into PendingBoundary.
type PendingBoundaryInsert struct {
	PolyID   string
	Council  string
	Geometry geometry.Polygon
}

// UpsertPendingBoundaries upserts a batch of candidate boundaries in one
// round trip (§4.2 step 5: "chunk size is bounded (~10000 rows per round
// trip) to respect the persistence layer's packet limit"). Callers own the
// chunking; this sends exactly one batch per call.
func (s *Store) UpsertPendingBoundaries(ctx context.Context, rows []PendingBoundaryInsert) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO pending_boundary (poly_id, council, geom)
			VALUES ($1, $2, ST_GeomFromText($3, 4326))
			ON CONFLICT (poly_id) DO UPDATE SET
				council = EXCLUDED.council,
				geom = EXCLUDED.geom,
				accepted = false,
				match_type = NULL,
				updated_at = now()
		`, row.PolyID, row.Council, row.Geometry.ToWKT())
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return errors.DatabaseErrorf(err, "upserting pending boundary row %d of chunk", i)
		}
	}
	return nil
}

// CountPendingForCouncil returns how many pending rows a council has
// contributed this run, used for the >=100-feature sanity check (§4.2
// step 6).
func (s *Store) CountPendingForCouncil(ctx context.Context, council string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pending_boundary WHERE council = $1`, council).Scan(&n)
	if err != nil {
		return 0, errors.DatabaseErrorf(err, "counting pending boundaries for %s", council)
	}
	return n, nil
}

// PropertyAddressForTitle returns the address on file for a title number,
// used as the optional Moved-tag fallback input (§4.3 step 3: "the optional
// address of any title linked to the accepted row"). Returns "" if the
// title has no ownership row.
func (s *Store) PropertyAddressForTitle(ctx context.Context, titleNo string) (string, error) {
	if titleNo == "" {
		return "", nil
	}
	var address string
	err := s.pool.QueryRow(ctx, `SELECT property_address FROM ownership WHERE title_no = $1`, titleNo).Scan(&address)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", errors.DatabaseErrorf(err, "fetching property address for title %s", titleNo)
	}
	return address, nil
}

// GetAcceptedByPolyID returns the currently-accepted boundary for a
// poly_id, or nil if none exists yet (§4.3 step 2).
func (s *Store) GetAcceptedByPolyID(ctx context.Context, polyID string) (*AcceptedBoundary, error) {
	var ab AcceptedBoundary
	var wkt string
	err := s.pool.QueryRow(ctx, `
		SELECT poly_id, title_no, ST_AsText(geom), created_at, updated_at
		FROM accepted_boundary WHERE poly_id = $1
	`, polyID).Scan(&ab.PolyID, &ab.TitleNo, &wkt, &ab.CreatedAt, &ab.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.DatabaseErrorf(err, "fetching accepted boundary %s", polyID)
	}
	poly, err := geometry.ParseWKT(wkt)
	if err != nil {
		return nil, errors.DataRowErrorf(err, "parsing accepted boundary geometry for %s", polyID)
	}
	ab.Geometry = poly
	return &ab, nil
}

// AnyAcceptedOverlaps reports whether a candidate polygon intersects
// (ST_Intersects) any existing accepted boundary, used by ClassifyNewBoundary
// (§4.3 step 4) to decide between NewBoundary and Fail.
func (s *Store) AnyAcceptedOverlaps(ctx context.Context, poly geometry.Polygon) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accepted_boundary
			WHERE ST_Intersects(geom, ST_GeomFromText($1, 4326))
		)
	`, poly.ToWKT()).Scan(&exists)
	if err != nil {
		return false, errors.DatabaseError(err, "checking accepted-boundary overlap")
	}
	return exists, nil
}

// BoundaryMatch pairs a poly_id with its geometry: the candidate shape the
// gated merge/segment cascade (§4.3.1 "designed-but-gated tags") tests for
// absorption or sibling-split membership.
type BoundaryMatch struct {
	PolyID   string
	Geometry geometry.Polygon
}

// AcceptedBoundariesIntersecting returns every accepted boundary other than
// excludePolyID whose geometry intersects poly, the candidate set for
// detecting accepted rows a pending row may have absorbed (Merged/
// MergedIncomplete).
func (s *Store) AcceptedBoundariesIntersecting(ctx context.Context, poly geometry.Polygon, excludePolyID string) ([]BoundaryMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT poly_id, ST_AsText(geom) FROM accepted_boundary
		WHERE poly_id != $2 AND ST_Intersects(geom, ST_GeomFromText($1, 4326))
	`, poly.ToWKT(), excludePolyID)
	if err != nil {
		return nil, errors.DatabaseError(err, "querying intersecting accepted boundaries")
	}
	return scanBoundaryMatches(rows)
}

// PendingBoundariesIntersecting returns every pending boundary other than
// excludePolyID whose geometry intersects poly, the candidate set for
// detecting sibling pending rows that together replace a split accepted
// boundary (Segmented/SegmentedIncomplete).
func (s *Store) PendingBoundariesIntersecting(ctx context.Context, poly geometry.Polygon, excludePolyID string) ([]BoundaryMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT poly_id, ST_AsText(geom) FROM pending_boundary
		WHERE poly_id != $2 AND ST_Intersects(geom, ST_GeomFromText($1, 4326))
	`, poly.ToWKT(), excludePolyID)
	if err != nil {
		return nil, errors.DatabaseError(err, "querying intersecting pending boundaries")
	}
	return scanBoundaryMatches(rows)
}

func scanBoundaryMatches(rows pgx.Rows) ([]BoundaryMatch, error) {
	defer rows.Close()
	var out []BoundaryMatch
	for rows.Next() {
		var m BoundaryMatch
		var wkt string
		if err := rows.Scan(&m.PolyID, &wkt); err != nil {
			return nil, errors.DatabaseError(err, "scanning boundary match row")
		}
		poly, err := geometry.ParseWKT(wkt)
		if err != nil {
			continue // non-simple geometry: not a usable merge/segment candidate
		}
		m.Geometry = poly
		out = append(out, m)
	}
	return out, rows.Err()
}

// PendingRowVisitor is called once per pending row in primary-key order.
type PendingRowVisitor func(PendingBoundary) error

// WalkPendingAfter streams pending rows with id > afterID in primary-key
// order (§5: "Within a council, pending rows are consumed in primary-key
// order"), calling visit for each.
func (s *Store) WalkPendingAfter(ctx context.Context, afterID int64, visit PendingRowVisitor) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, poly_id, council, ST_AsText(geom), accepted, match_type, created_at, updated_at
		FROM pending_boundary WHERE id > $1 ORDER BY id ASC
	`, afterID)
	if err != nil {
		return errors.DatabaseError(err, "querying pending boundaries")
	}
	defer rows.Close()

	for rows.Next() {
		var pb PendingBoundary
		var wkt string
		if err := rows.Scan(&pb.ID, &pb.PolyID, &pb.Council, &wkt, &pb.Accepted, &pb.MatchType, &pb.CreatedAt, &pb.UpdatedAt); err != nil {
			return errors.DatabaseError(err, "scanning pending boundary row")
		}
		poly, err := geometry.ParseWKT(wkt)
		if err != nil {
			if visitErr := visit(PendingBoundary{ID: pb.ID, PolyID: pb.PolyID, Council: pb.Council}); visitErr != nil {
				return visitErr
			}
			continue
		}
		pb.Geometry = poly
		if err := visit(pb); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpdatePendingResult records a classification outcome. accepted must be
// true iff matchType is a non-failure tag (§5 invariant).
func (s *Store) UpdatePendingResult(ctx context.Context, polyID string, matchType string, accepted bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_boundary SET accepted = $2, match_type = $3, updated_at = now()
		WHERE poly_id = $1
	`, polyID, accepted, matchType)
	if err != nil {
		return errors.DatabaseErrorf(err, "updating pending result for %s", polyID)
	}
	return nil
}

// InsertPendingDeletion schedules a poly_id for removal from
// AcceptedBoundary at the next promotion (§4.3.2: merge/segment tags).
func (s *Store) InsertPendingDeletion(ctx context.Context, polyID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_deletion (poly_id) VALUES ($1)
		ON CONFLICT (poly_id) DO NOTHING
	`, polyID)
	if err != nil {
		return errors.DatabaseErrorf(err, "scheduling deletion of %s", polyID)
	}
	return nil
}

// PromoteAccepted drains PendingDeletion (removing those ids from
// AcceptedBoundary) and bulk-inserts-or-updates every accepted pending row
// into AcceptedBoundary (§4.3 step 6), inside one transaction.
func (s *Store) PromoteAccepted(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.DatabaseError(err, "beginning promotion transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM accepted_boundary WHERE poly_id IN (SELECT poly_id FROM pending_deletion)
	`); err != nil {
		return errors.DatabaseError(err, "applying pending deletions")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO accepted_boundary (poly_id, geom)
		SELECT poly_id, geom FROM pending_boundary WHERE accepted = true
		ON CONFLICT (poly_id) DO UPDATE SET geom = EXCLUDED.geom, updated_at = now()
	`); err != nil {
		return errors.DatabaseError(err, "promoting accepted pending rows")
	}

	if _, err := tx.Exec(ctx, `TRUNCATE pending_deletion`); err != nil {
		return errors.DatabaseError(err, "clearing pending deletions after promotion")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.DatabaseError(err, "committing promotion transaction")
	}
	return nil
}
