package main

import (
	"context"
	"fmt"

	"github.com/landregistry/inspire-reconciler/internal/ledger"
	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/landregistry/inspire-reconciler/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	startAtTask      string
	stopBeforeTask   string
	resumeFlag       bool
	updateBoundaries bool
	maxCouncils      int
	afterCouncil     string
	maxPolygons      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new pipeline run: Ownership Updater, Polygon Ingestor, Polygon Reconciler",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&startAtTask, "start-at-task", "", "start the run at this task (ownership_updater|polygon_ingestor|polygon_reconciler)")
	runCmd.Flags().StringVar(&stopBeforeTask, "stop-before-task", "", "stop the run before this task")
	runCmd.Flags().BoolVar(&resumeFlag, "resume", false, "resume rather than truncate pending state before the Polygon Ingestor task")
	runCmd.Flags().BoolVar(&updateBoundaries, "update-boundaries", true, "promote the accepted set into next month's serving table on an unfiltered completion")
	runCmd.Flags().IntVar(&maxCouncils, "max-councils", 0, "limit the run to this many councils (0 = unlimited)")
	runCmd.Flags().StringVar(&afterCouncil, "after-council", "", "skip councils up to and including this one, alphabetically")
	runCmd.Flags().IntVar(&maxPolygons, "max-polygons", 0, "limit reconciliation to this many pending rows (0 = unlimited)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// §5: resumption after abnormal termination is automatic at process
	// startup. If a ledger row is still marked running, finish it before
	// considering the flags for a new run.
	resumed, err := a.pipeline.ResumeAtStartup(ctx)
	if err != nil {
		return err
	}
	if resumed != nil {
		logging.Info("pipeline run resumed to completion", "unique_key", resumed.UniqueKey)
		return nil
	}

	opts := ledger.Options{
		StartAtTask:      ledger.Task(startAtTask),
		StopBeforeTask:   ledger.Task(stopBeforeTask),
		Resume:           resumeFlag,
		UpdateBoundaries: updateBoundaries,
		MaxCouncils:      maxCouncils,
		AfterCouncil:     afterCouncil,
		MaxPolygons:      maxPolygons,
	}

	run, err := a.pipeline.Start(ctx, opts)
	if err != nil {
		if err == pipeline.ErrBusy {
			return fmt.Errorf("a run is already in progress (unique key %s); use 'inspire-pipeline status' to check it", run.UniqueKey)
		}
		return err
	}

	logging.Info("pipeline run completed", "unique_key", run.UniqueKey)
	return nil
}
