package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/geometry"
)

// ReadModel backs the external HTTP query surface described in §6: bbox
// search, poly_id lookup, and proprietor-name search over AcceptedBoundary
// joined to Ownership. The HTTP handlers themselves are out of scope (§1
// Non-goals); this type exists so §8's invariants are directly testable
// and so the pack's sqlx-based read-query idiom is exercised.
type ReadModel struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewReadModel opens a read-oriented sqlx connection against the same
// database the Store writes to.
func NewReadModel(dsn string) (*ReadModel, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errors.DatabaseError(err, "opening read-model connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.DatabaseError(err, "connecting read-model")
	}
	return &ReadModel{db: db, logger: slog.Default().With("component", "readmodel")}, nil
}

// Close closes the read-model connection.
func (r *ReadModel) Close() error {
	return r.db.Close()
}

// BoundaryRow is one AcceptedBoundary row, optionally joined to its title's
// ownership, as served by the query surface.
type BoundaryRow struct {
	PolyID          string  `db:"poly_id"`
	TitleNo         *string `db:"title_no"`
	WKT             string  `db:"wkt"`
	PropertyAddress *string `db:"property_address"`
}

// Geometry parses the row's stored WKT into a Polygon.
func (b BoundaryRow) Geometry() (geometry.Polygon, error) {
	return geometry.ParseWKT(b.WKT)
}

const maxBoundaryRows = 5000

// ByPolyIDs returns accepted boundaries matching any of the given poly_ids,
// backing `POST /polygons { poly_ids }` (§6).
func (r *ReadModel) ByPolyIDs(ctx context.Context, polyIDs []string) ([]BoundaryRow, error) {
	if len(polyIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT ab.poly_id, ab.title_no, ST_AsText(ab.geom) AS wkt, o.property_address
		FROM accepted_boundary ab
		LEFT JOIN ownership o ON o.title_no = ab.title_no
		WHERE ab.poly_id IN (?)
		LIMIT ?
	`, polyIDs, maxBoundaryRows)
	if err != nil {
		return nil, errors.InternalError("building poly_id search query: " + err.Error())
	}
	query = r.db.Rebind(query)

	var rows []BoundaryRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, errors.DatabaseError(err, "searching boundaries by poly_id")
	}
	return rows, nil
}

// BySearchArea returns accepted boundaries whose geometry intersects the
// given WGS84 bounding box, backing `POST /polygons { searchArea }` (§6).
// includeLeaseholds, when false, drops boundaries whose title's tenure is
// Leasehold; boundaries with no linked ownership row are kept.
func (r *ReadModel) BySearchArea(ctx context.Context, bbox geometry.BoundingBox, includeLeaseholds bool) ([]BoundaryRow, error) {
	tenureFilter := ""
	if !includeLeaseholds {
		tenureFilter = "AND (o.tenure IS NULL OR o.tenure <> 'Leasehold')"
	}

	query := fmt.Sprintf(`
		SELECT ab.poly_id, ab.title_no, ST_AsText(ab.geom) AS wkt, o.property_address
		FROM accepted_boundary ab
		LEFT JOIN ownership o ON o.title_no = ab.title_no
		WHERE ab.geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		  AND ST_Intersects(ab.geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))
		  %s
		LIMIT $5
	`, tenureFilter)

	var rows []BoundaryRow
	err := r.db.SelectContext(ctx, &rows, query,
		bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat, maxBoundaryRows)
	if err != nil {
		return nil, errors.DatabaseError(err, "searching boundaries by area")
	}
	return rows, nil
}

// ByProprietorName returns accepted boundaries whose title is owned by a
// proprietor matching name (case-insensitive substring), backing
// `GET /search?proprietorName` (§6).
func (r *ReadModel) ByProprietorName(ctx context.Context, name string, limit int) ([]BoundaryRow, error) {
	if limit <= 0 || limit > maxBoundaryRows {
		limit = maxBoundaryRows
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	query := `
		SELECT ab.poly_id, ab.title_no, ST_AsText(ab.geom) AS wkt, o.property_address
		FROM accepted_boundary ab
		JOIN ownership o ON o.title_no = ab.title_no
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(o.proprietors) p
			WHERE p->>'name' ILIKE '%' || $1 || '%'
		)
		LIMIT $2
	`

	var rows []BoundaryRow
	if err := r.db.SelectContext(ctx, &rows, query, name, limit); err != nil {
		return nil, errors.DatabaseError(err, "searching boundaries by proprietor name")
	}
	return rows, nil
}
