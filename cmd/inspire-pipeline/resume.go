package main

import (
	"context"
	"fmt"

	"github.com/landregistry/inspire-reconciler/internal/logging"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the run left in progress by an abnormal termination, if any",
	Long: `Resume normally happens automatically at process startup (§5). This
subcommand exists for operators restarting the binary manually without a
supervisor, or re-entering a run after diagnosing why it stopped.`,
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.pipeline.ResumeAtStartup(ctx)
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("no run left in progress")
		return nil
	}

	logging.Info("pipeline run resumed to completion", "unique_key", run.UniqueKey)
	return nil
}
