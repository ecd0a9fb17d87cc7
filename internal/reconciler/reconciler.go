// Package reconciler implements the Polygon Reconciler (§4.3), the core of
// the core: it walks PendingBoundary in primary-key order, classifies each
// row against the prior month's AcceptedBoundary via the Match Classifier,
// applies the accept/reject policy table, and — once a full unfiltered run
// completes — promotes the accepted set into next month's serving table.
package reconciler

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/landregistry/inspire-reconciler/internal/classifier"
	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// errMaxPolygonsReached stops WalkPendingAfter early once an operator-
// supplied maxPolygons cap is hit, without being treated as a real failure.
var errMaxPolygonsReached = stderrors.New("reconciler: maxPolygons reached")

// Options tunes one Reconciler run beyond what the Run Ledger carries.
type Options struct {
	MaxPolygons      int
	UpdateBoundaries bool
	Unfiltered       bool // run.Options.IsUnfiltered(): no maxCouncils/afterCouncil/maxPolygons filter in effect
	MaxStalls        int
	PublishMonth     time.Time
}

// Reconciler drives the Polygon Reconciler task end to end.
type Reconciler struct {
	store           *store.Store
	ledger          *ledger.Ledger
	classifier      *classifier.Classifier
	stalls          *StallGuard
	matchTypeCounts map[string]int
}

// New creates a Reconciler.
func New(st *store.Store, led *ledger.Ledger, cl *classifier.Classifier, maxStalls int) *Reconciler {
	return &Reconciler{
		store:           st,
		ledger:          led,
		classifier:      cl,
		stalls:          NewStallGuard(led, maxStalls),
		matchTypeCounts: make(map[string]int),
	}
}

// MatchTypeCounts returns the classifier-tag tally accumulated across every
// Run call on this Reconciler, for the completion notification's summary
// table (§6).
func (r *Reconciler) MatchTypeCounts() map[string]int {
	return r.matchTypeCounts
}

// Run classifies every pending row after run.LastPolyAnalysed, in primary-
// key order, updating the ledger's watermark durably after every row (§4.3
// steps 1-5), then promotes the accepted set if the run qualifies (step 6).
func (r *Reconciler) Run(ctx context.Context, run *ledger.Run, opts Options) error {
	firstRowID := run.LastPolyAnalysed + 1
	processed := 0

	walkErr := r.store.WalkPendingAfter(ctx, run.LastPolyAnalysed, func(pb store.PendingBoundary) error {
		if opts.MaxPolygons > 0 && processed >= opts.MaxPolygons {
			return errMaxPolygonsReached
		}
		isFirstRow := pb.ID == firstRowID

		if procErr := r.processRow(ctx, pb); procErr != nil {
			skip, err := r.stalls.Handle(ctx, run, isFirstRow, procErr)
			if err != nil {
				return err
			}
			if !skip {
				return procErr
			}
			// fall through: advance past the pathological row below
		}

		if err := r.ledger.UpdateLastPolyAnalysed(ctx, run.UniqueKey, pb.ID); err != nil {
			return err
		}
		run.LastPolyAnalysed = pb.ID
		processed++
		return nil
	})

	if walkErr != nil && !stderrors.Is(walkErr, errMaxPolygonsReached) {
		return walkErr
	}

	if opts.UpdateBoundaries && opts.Unfiltered {
		if err := r.store.PromoteAccepted(ctx); err != nil {
			return err
		}
		if err := r.ledger.UpdateLatestInspireData(ctx, run.UniqueKey, opts.PublishMonth); err != nil {
			return err
		}
		logging.Info("accepted boundaries promoted", "publish_month", opts.PublishMonth.Format("2006-01"))
	}

	return nil
}

// processRow classifies a single pending row and applies its result.
// Returned errors represent genuine processing failures (store/geocoder
// errors); a Fail classification is a normal outcome, not an error.
func (r *Reconciler) processRow(ctx context.Context, pb store.PendingBoundary) error {
	if len(pb.Geometry.Outer) == 0 {
		// WalkPendingAfter hands back a geometry-less row when the stored
		// WKT failed to parse — a multi-polygon or otherwise non-simple
		// geometry (§4.3 step 1).
		return r.applyResult(ctx, pb, classifier.Result{Tag: classifier.TagFail, Reason: "not a simple polygon"})
	}

	accepted, err := r.store.GetAcceptedByPolyID(ctx, pb.PolyID)
	if err != nil {
		return err
	}

	if accepted != nil {
		titleAddress, err := r.titleAddressFor(ctx, accepted.TitleNo)
		if err != nil {
			return err
		}
		candidates, err := r.mergeSegmentCandidates(ctx, pb, accepted)
		if err != nil {
			return err
		}
		result := r.classifier.Classify(ctx, pb.Council, accepted.Geometry, pb.Geometry, titleAddress, candidates)
		return r.applyResult(ctx, pb, result)
	}

	overlaps, err := r.store.AnyAcceptedOverlaps(ctx, pb.Geometry)
	if err != nil {
		return err
	}
	return r.applyResult(ctx, pb, classifier.ClassifyNewBoundary(overlaps))
}

func (r *Reconciler) titleAddressFor(ctx context.Context, titleNo *string) (string, error) {
	if titleNo == nil || *titleNo == "" {
		return "", nil
	}
	return r.store.PropertyAddressForTitle(ctx, *titleNo)
}

// mergeSegmentCandidates fetches the sibling accepted/pending boundaries the
// gated merge/segment cascade needs (§4.3.1), skipping both spatial queries
// entirely when the cascade is disabled.
func (r *Reconciler) mergeSegmentCandidates(ctx context.Context, pb store.PendingBoundary, accepted *store.AcceptedBoundary) (classifier.MergeSegmentCandidates, error) {
	if !r.classifier.CascadeEnabled() {
		return classifier.MergeSegmentCandidates{}, nil
	}

	acceptedNearby, err := r.store.AcceptedBoundariesIntersecting(ctx, pb.Geometry, pb.PolyID)
	if err != nil {
		return classifier.MergeSegmentCandidates{}, err
	}
	pendingNearby, err := r.store.PendingBoundariesIntersecting(ctx, accepted.Geometry, pb.PolyID)
	if err != nil {
		return classifier.MergeSegmentCandidates{}, err
	}

	return classifier.MergeSegmentCandidates{
		AcceptedNearby: toCandidatePolygons(acceptedNearby),
		PendingNearby:  toCandidatePolygons(pendingNearby),
	}, nil
}

func toCandidatePolygons(matches []store.BoundaryMatch) []classifier.CandidatePolygon {
	out := make([]classifier.CandidatePolygon, len(matches))
	for i, m := range matches {
		out[i] = classifier.CandidatePolygon{PolyID: m.PolyID, Geometry: m.Geometry}
	}
	return out
}

// applyResult writes a classification outcome back to PendingBoundary per
// the accept/reject policy table (§4.3.2).
func (r *Reconciler) applyResult(ctx context.Context, pb store.PendingBoundary, result classifier.Result) error {
	accepted := classifier.IsAccepted(result.Tag)
	if err := r.store.UpdatePendingResult(ctx, pb.PolyID, string(result.Tag), accepted); err != nil {
		return err
	}
	r.matchTypeCounts[string(result.Tag)]++

	switch result.Tag {
	case classifier.TagMerged, classifier.TagMergedIncomplete, classifier.TagMergedAndSegmented:
		for _, absorbedID := range result.AbsorbedPolyIDs {
			if err := r.store.InsertPendingDeletion(ctx, absorbedID); err != nil {
				return err
			}
		}
	}
	switch result.Tag {
	case classifier.TagSegmented, classifier.TagSegmentedIncomplete, classifier.TagMergedAndSegmented:
		for _, siblingID := range result.SiblingPolyIDs {
			if err := r.store.UpdatePendingResult(ctx, siblingID, string(classifier.TagNewSegment), true); err != nil {
				return err
			}
		}
	}

	return nil
}
