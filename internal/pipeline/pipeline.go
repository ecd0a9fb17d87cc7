// Package pipeline implements the single resumable linear pipeline
// described in §5: at most one run process-wide, tasks executed
// sequentially in a fixed order, automatic resumption at process startup.
package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/landregistry/inspire-reconciler/internal/config"
	"github.com/landregistry/inspire-reconciler/internal/ingestion"
	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/landregistry/inspire-reconciler/internal/notify"
	"github.com/landregistry/inspire-reconciler/internal/ownership"
	"github.com/landregistry/inspire-reconciler/internal/reconciler"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

// ErrBusy is returned when a run is requested while another is still
// marked running in the Run Ledger (§5 "busy indicator").
var ErrBusy = stderrors.New("pipeline: a run is already in progress")

// taskOrder is the fixed sequential task ordering (§5 "Ordering
// guarantees"): Ownership Updater, then Polygon Ingestor, then Polygon
// Reconciler.
var taskOrder = []ledger.Task{
	ledger.TaskOwnershipUpdater,
	ledger.TaskPolygonIngestor,
	ledger.TaskPolygonReconciler,
}

// Pipeline wires the three tasks to the Run Ledger and runs them as one
// logical worker.
type Pipeline struct {
	ledger           *ledger.Ledger
	store            *store.Store
	ownershipUpdater *ownership.Updater
	ingestor         *ingestion.Ingestor
	reconciler       *reconciler.Reconciler
	notifier         *notify.Notifier
	cfg              *config.Config
}

// New creates a Pipeline from its fully-constructed task drivers.
func New(led *ledger.Ledger, st *store.Store, updater *ownership.Updater, ing *ingestion.Ingestor, rec *reconciler.Reconciler, notifier *notify.Notifier, cfg *config.Config) *Pipeline {
	return &Pipeline{
		ledger:           led,
		store:            st,
		ownershipUpdater: updater,
		ingestor:         ing,
		reconciler:       rec,
		notifier:         notifier,
		cfg:              cfg,
	}
}

// Start begins a brand new run with the given options, refusing if one is
// already in progress (§5 concurrency guarantee). It runs every selected
// task to completion (or failure) before returning.
func (p *Pipeline) Start(ctx context.Context, opts ledger.Options) (*ledger.Run, error) {
	running, err := p.ledger.FindRunning(ctx)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return running, ErrBusy
	}

	run, err := p.ledger.StartNewRun(ctx, opts)
	if err != nil {
		return nil, err
	}

	return run, p.execute(ctx, run)
}

// ResumeAtStartup re-enters a run left in status=running after abnormal
// termination (§5: "Resumption after abnormal termination is automatic at
// process startup: if a ledger row is still marked running, that row's
// options are loaded, the run key is re-installed, and the pipeline
// re-enters with resume = true"). Returns a nil run if nothing was running.
func (p *Pipeline) ResumeAtStartup(ctx context.Context) (*ledger.Run, error) {
	run, err := p.ledger.FindRunning(ctx)
	if err != nil || run == nil {
		return nil, err
	}
	run.Options.Resume = true
	logging.ForRun(run.UniqueKey).Info("resuming pipeline run after restart", "last_task", run.LastTask)
	return run, p.execute(ctx, run)
}

// execute runs every task from run.Options.StartAtTask (or the beginning)
// up to, but not including, run.Options.StopBeforeTask (or the end),
// stopping the ledger row on success and leaving it running on failure so
// the next process startup resumes it automatically.
func (p *Pipeline) execute(ctx context.Context, run *ledger.Run) error {
	started := run.Options.StartAtTask == ""
	for _, task := range taskOrder {
		if !started {
			if task != run.Options.StartAtTask {
				continue
			}
			started = true
		}
		if run.Options.StopBeforeTask != "" && task == run.Options.StopBeforeTask {
			break
		}

		if err := p.runTask(ctx, run, task); err != nil {
			p.notifier.NotifyFailure(ctx, run.UniqueKey, string(task), err)
			return err
		}
		if err := p.ledger.UpdateLastTask(ctx, run.UniqueKey, task); err != nil {
			return err
		}
		run.LastTask = task
	}

	if err := p.ledger.Stop(ctx, run.UniqueKey); err != nil {
		return err
	}
	p.notifier.NotifyCompletion(ctx, run.UniqueKey, p.reconciler.MatchTypeCounts())
	return nil
}

func (p *Pipeline) runTask(ctx context.Context, run *ledger.Run, task ledger.Task) error {
	logging.ForRun(run.UniqueKey).Info("task starting", "task", task)
	switch task {
	case ledger.TaskOwnershipUpdater:
		return p.ownershipUpdater.Run(ctx, run)

	case ledger.TaskPolygonIngestor:
		if !run.Options.Resume {
			// Fresh run of a new publish month: last month's pending rows
			// must not linger (§9 "Truncated at start of a non-resumed run").
			if err := p.store.TruncatePending(ctx); err != nil {
				return err
			}
		}
		return p.ingestor.Run(ctx, run, p.ingestOptions(run))

	case ledger.TaskPolygonReconciler:
		return p.reconciler.Run(ctx, run, p.reconcileOptions(run))

	default:
		return nil
	}
}

func (p *Pipeline) ingestOptions(run *ledger.Run) ingestion.Options {
	return ingestion.Options{
		AfterCouncil: run.Options.AfterCouncil,
		MaxCouncils:  run.Options.MaxCouncils,
		ChunkSize:    p.cfg.Pipeline.ChunkSize,
		Workers:      p.cfg.Pipeline.IngestWorkers,
		Precision:    p.cfg.Pipeline.CoordinatePrecision,
		MinFeatures:  p.cfg.Pipeline.MinCouncilFeatureCount,
		DownloadsDir: p.cfg.Storage.DownloadsDir,
		GeoJSONDir:   p.cfg.Storage.GeoJSONDir,
		RemoteBackup: p.cfg.Storage.RemoteBackup,
	}
}

func (p *Pipeline) reconcileOptions(run *ledger.Run) reconciler.Options {
	publishMonth, err := ingestion.LatestPublishMonth(time.Now())
	if err != nil {
		publishMonth = time.Now()
	}
	return reconciler.Options{
		MaxPolygons:      run.Options.MaxPolygons,
		UpdateBoundaries: run.Options.UpdateBoundaries,
		Unfiltered:       run.Options.IsUnfiltered(),
		MaxStalls:        p.cfg.Pipeline.MaxConsecutiveStalls,
		PublishMonth:     publishMonth,
	}
}
