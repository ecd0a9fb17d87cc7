// Package store is the spatial persistence layer: AcceptedBoundary (the
// currently-served boundary per INSPIRE id), PendingBoundary (the current
// run's candidate boundaries awaiting classification), PendingDeletion (ids
// scheduled for removal at promotion time), and Ownership (CCOD/OCOD title
// deeds). It is built on pgx/v5's pgxpool for transactional writes and
// spatial predicates, with a read-model layer (readmodel.go) on jmoiron/sqlx
// backing the bbox/proprietor-name query surface described in §6, which
// itself lives outside this module.
package store

import (
	"time"

	"github.com/landregistry/inspire-reconciler/internal/geometry"
)

// Proprietor is one of up to four registered owners of a title.
type Proprietor struct {
	Name         string `json:"name"`
	CompanyNo    string `json:"company_no"`
	Category     string `json:"category"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2"`
	AddressLine3 string `json:"address_line3"`
}

// Ownership is one CCOD/OCOD title deed record.
type Ownership struct {
	TitleNo             string
	Tenure              string
	PropertyAddress     string
	Postcode            string
	Proprietors         [4]Proprietor
	DateProprietorAdded time.Time
	UKBased             bool
}

// AcceptedBoundary is the currently-served boundary for an INSPIRE polygon
// id: the result of a prior run's Reconciler accepting a pending row.
type AcceptedBoundary struct {
	PolyID    string
	TitleNo   *string
	Geometry  geometry.Polygon
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingBoundary is a candidate boundary ingested during the current run,
// awaiting or carrying a classification. ID is the primary-key insertion
// order the Reconciler walks; PolyID is unique only within the active run.
type PendingBoundary struct {
	ID        int64
	PolyID    string
	Council   string
	Geometry  geometry.Polygon
	Accepted  bool
	MatchType *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
