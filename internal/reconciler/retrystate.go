package reconciler

import (
	"context"

	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
)

const defaultMaxConsecutiveStalls = 3

// StallGuard implements §4.3.3's retry discipline: a pathological pending
// row must not halt the month indefinitely. Only a failure on the very
// first row attempted this run — last_poly_analysed + 1, the row a crash
// would retry on resume — counts as a stall; a failure further into the
// walk is a normal error.
type StallGuard struct {
	ledger    *ledger.Ledger
	maxStalls int
}

// NewStallGuard creates a StallGuard. maxStalls <= 0 defaults to 3.
func NewStallGuard(led *ledger.Ledger, maxStalls int) *StallGuard {
	if maxStalls <= 0 {
		maxStalls = defaultMaxConsecutiveStalls
	}
	return &StallGuard{ledger: led, maxStalls: maxStalls}
}

// Handle is called when processing a pending row fails. It returns skip=true
// when the row has stalled out too many consecutive resumes and should be
// passed over; otherwise it returns the original error for the caller to
// propagate (leaving last_poly_analysed unchanged, so the next resume
// retries the same row and the stall count climbs further).
func (g *StallGuard) Handle(ctx context.Context, run *ledger.Run, isFirstRowThisRun bool, rowErr error) (skip bool, err error) {
	if !isFirstRowThisRun {
		return false, rowErr
	}
	count, err := g.ledger.RecordStall(ctx, run.UniqueKey)
	if err != nil {
		return false, err
	}
	if count > g.maxStalls {
		logging.Warn("skipping pending row after repeated stalls", "stalls", count, "error", rowErr)
		return true, nil
	}
	return false, rowErr
}
