// Package ledger implements the Run Ledger: the single source of truth for
// pipeline resumption (§3, §5). One row per pipeline execution records its
// status, the last completed task, the last downloaded council, the last
// analysed pending-row id, the run's configured options, and the two
// data-date high-water marks.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/landregistry/inspire-reconciler/internal/errors"
)

// Status is the lifecycle state of a Run Ledger row.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Task identifies one of the three pipeline stages, used for
// startAtTask/stopBeforeTask options and for last_task bookkeeping.
type Task string

const (
	TaskOwnershipUpdater Task = "ownership_updater"
	TaskPolygonIngestor  Task = "polygon_ingestor"
	TaskPolygonReconciler Task = "polygon_reconciler"
)

// Options mirrors the GET /run-pipeline query options (§6), stored as the
// ledger row's JSON options column.
type Options struct {
	StartAtTask      Task   `json:"startAtTask,omitempty"`
	StopBeforeTask   Task   `json:"stopBeforeTask,omitempty"`
	Resume           bool   `json:"resume"`
	UpdateBoundaries bool   `json:"updateBoundaries"`
	RecordStats      bool   `json:"recordStats"`
	MaxCouncils      int    `json:"maxCouncils,omitempty"`
	AfterCouncil     string `json:"afterCouncil,omitempty"`
	MaxPolygons      int    `json:"maxPolygons,omitempty"`
}

// IsUnfiltered reports whether the run covers the entire pending set, the
// precondition for promotion into AcceptedBoundary (§4.3 step 6).
func (o Options) IsUnfiltered() bool {
	return o.MaxCouncils == 0 && o.AfterCouncil == "" && o.MaxPolygons == 0
}

// Run is one Run Ledger row.
type Run struct {
	UniqueKey             string
	Status                Status
	StartedAt             time.Time
	Options               Options
	LastTask              Task
	LastCouncilDownloaded string
	LastPolyAnalysed      int64
	LatestOwnershipData   *time.Time
	LatestInspireData     *time.Time
	ConsecutiveStalls     int
}

// Ledger provides CRUD access to the Run Ledger table over database/sql.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a Ledger backed by the given database/sql connection.
func New(db *sql.DB) *Ledger {
	return &Ledger{
		db:     db,
		logger: slog.Default().With("component", "ledger"),
	}
}

// StartNewRun creates a new running Run Ledger row with a fresh unique key.
// It fails if another row is already running (§3 invariant: at most one
// running row at any time), leaving that check to the database's partial
// unique index on status='running'.
func (l *Ledger) StartNewRun(ctx context.Context, opts Options) (*Run, error) {
	key := uuid.New().String()
	optsJSON, err := marshalOptions(opts)
	if err != nil {
		return nil, errors.InternalError("marshal run options: " + err.Error())
	}

	run := &Run{
		UniqueKey: key,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Options:   opts,
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO run_ledger (unique_key, status, started_at, options, consecutive_stalls)
		VALUES ($1, $2, $3, $4, 0)
	`, run.UniqueKey, run.Status, run.StartedAt, optsJSON)
	if err != nil {
		return nil, errors.DatabaseError(err, "starting new run")
	}

	l.logger.Info("run started", "unique_key", key)
	return run, nil
}

// FindRunning returns the currently running Run Ledger row, if any. A nil
// result with no error means no run is in progress.
func (l *Ledger) FindRunning(ctx context.Context) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT unique_key, status, started_at, options, last_task,
		       last_council_downloaded, last_poly_analysed,
		       latest_ownership_data, latest_inspire_data, consecutive_stalls
		FROM run_ledger
		WHERE status = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, StatusRunning)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "finding running run")
	}
	return run, nil
}

// Get returns a run by unique key.
func (l *Ledger) Get(ctx context.Context, uniqueKey string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT unique_key, status, started_at, options, last_task,
		       last_council_downloaded, last_poly_analysed,
		       latest_ownership_data, latest_inspire_data, consecutive_stalls
		FROM run_ledger
		WHERE unique_key = $1
	`, uniqueKey)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", uniqueKey)
	}
	if err != nil {
		return nil, errors.DatabaseErrorf(err, "getting run %s", uniqueKey)
	}
	return run, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scannable) (*Run, error) {
	var run Run
	var optsJSON []byte
	var lastTask, lastCouncil sql.NullString
	var lastPoly sql.NullInt64
	var latestOwnership, latestInspire sql.NullTime
	var stalls sql.NullInt64

	err := row.Scan(&run.UniqueKey, &run.Status, &run.StartedAt, &optsJSON,
		&lastTask, &lastCouncil, &lastPoly, &latestOwnership, &latestInspire, &stalls)
	if err != nil {
		return nil, err
	}

	if lastTask.Valid {
		run.LastTask = Task(lastTask.String)
	}
	if lastCouncil.Valid {
		run.LastCouncilDownloaded = lastCouncil.String
	}
	if lastPoly.Valid {
		run.LastPolyAnalysed = lastPoly.Int64
	}
	if latestOwnership.Valid {
		t := latestOwnership.Time
		run.LatestOwnershipData = &t
	}
	if latestInspire.Valid {
		t := latestInspire.Time
		run.LatestInspireData = &t
	}
	if stalls.Valid {
		run.ConsecutiveStalls = int(stalls.Int64)
	}

	opts, err := unmarshalOptions(optsJSON)
	if err != nil {
		return nil, err
	}
	run.Options = opts

	return &run, nil
}

// UpdateLastTask records that a pipeline task has completed.
func (l *Ledger) UpdateLastTask(ctx context.Context, uniqueKey string, task Task) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET last_task = $1 WHERE unique_key = $2
	`, task, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "updating last_task")
	}
	return nil
}

// UpdateLastCouncilDownloaded records the last council the Ingestor
// completed, making the task resumable mid-run (§4.2).
func (l *Ledger) UpdateLastCouncilDownloaded(ctx context.Context, uniqueKey, council string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET last_council_downloaded = $1 WHERE unique_key = $2
	`, council, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "updating last_council_downloaded")
	}
	return nil
}

// UpdateLastPolyAnalysed durably records reconciler progress after every
// pending row, bounding post-crash rework to a single row (§4.3 step 5).
// It also resets the consecutive-stall counter, since forward progress was
// made.
func (l *Ledger) UpdateLastPolyAnalysed(ctx context.Context, uniqueKey string, polyID int64) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET last_poly_analysed = $1, consecutive_stalls = 0 WHERE unique_key = $2
	`, polyID, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "updating last_poly_analysed")
	}
	return nil
}

// RecordStall increments the consecutive-stall counter when a resumed run
// finds itself stuck at the same last_poly_analysed + 1 row (§4.3.3).
// Returns the updated count.
func (l *Ledger) RecordStall(ctx context.Context, uniqueKey string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		UPDATE run_ledger SET consecutive_stalls = consecutive_stalls + 1
		WHERE unique_key = $1
		RETURNING consecutive_stalls
	`, uniqueKey).Scan(&count)
	if err != nil {
		return 0, errors.DatabaseError(err, "recording stall")
	}
	return count, nil
}

// UpdateLatestOwnershipData advances the ownership high-water mark after
// each distinct publication date completes (§4.1).
func (l *Ledger) UpdateLatestOwnershipData(ctx context.Context, uniqueKey string, date time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET latest_ownership_data = $1 WHERE unique_key = $2
	`, date, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "updating latest_ownership_data")
	}
	return nil
}

// UpdateLatestInspireData advances the INSPIRE publish-month high-water
// mark, only called after a full, unfiltered promotion (§4.3 step 6).
func (l *Ledger) UpdateLatestInspireData(ctx context.Context, uniqueKey string, publishMonth time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET latest_inspire_data = $1 WHERE unique_key = $2
	`, publishMonth, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "updating latest_inspire_data")
	}
	return nil
}

// Stop marks a run as stopped, whether it succeeded or failed; the caller
// distinguishes outcome via notification, not via ledger state.
func (l *Ledger) Stop(ctx context.Context, uniqueKey string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE run_ledger SET status = $1 WHERE unique_key = $2
	`, StatusStopped, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "stopping run")
	}
	return nil
}

// PatchOption updates a single field of a run's stored options JSON without
// a full unmarshal/remarshal round trip, using the same gjson/sjson idiom
// the pack uses for targeted JSON field updates.
func (l *Ledger) PatchOption(ctx context.Context, uniqueKey, path string, value interface{}) error {
	var raw []byte
	err := l.db.QueryRowContext(ctx, `SELECT options FROM run_ledger WHERE unique_key = $1`, uniqueKey).Scan(&raw)
	if err != nil {
		return errors.DatabaseError(err, "reading options for patch")
	}

	patched, err := sjson.SetBytes(raw, path, value)
	if err != nil {
		return errors.InternalErrorf("patching option %s: %v", path, err)
	}

	_, err = l.db.ExecContext(ctx, `UPDATE run_ledger SET options = $1 WHERE unique_key = $2`, patched, uniqueKey)
	if err != nil {
		return errors.DatabaseError(err, "writing patched options")
	}
	return nil
}

func marshalOptions(opts Options) ([]byte, error) {
	return json.Marshal(opts)
}

// unmarshalOptions decodes the options JSON column using gjson for
// tolerant, partial field access rather than a strict struct unmarshal,
// so older rows with fewer fields remain readable.
func unmarshalOptions(raw []byte) (Options, error) {
	if len(raw) == 0 {
		return Options{}, nil
	}
	parsed := gjson.ParseBytes(raw)
	return Options{
		StartAtTask:      Task(parsed.Get("startAtTask").String()),
		StopBeforeTask:   Task(parsed.Get("stopBeforeTask").String()),
		Resume:           parsed.Get("resume").Bool(),
		UpdateBoundaries: parsed.Get("updateBoundaries").Bool(),
		RecordStats:      parsed.Get("recordStats").Bool(),
		MaxCouncils:      int(parsed.Get("maxCouncils").Int()),
		AfterCouncil:     parsed.Get("afterCouncil").String(),
		MaxPolygons:      int(parsed.Get("maxPolygons").Int()),
	}, nil
}
