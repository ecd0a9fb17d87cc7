package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the currently running pipeline run, if any",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	running, err := a.ledger.FindRunning(ctx)
	if err != nil {
		return err
	}
	if running == nil {
		fmt.Println("idle: no run in progress")
		return nil
	}

	fmt.Printf("run:                     %s\n", running.UniqueKey)
	fmt.Printf("status:                  %s\n", running.Status)
	fmt.Printf("started at:              %s\n", running.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("last task completed:     %s\n", running.LastTask)
	fmt.Printf("last council downloaded: %s\n", running.LastCouncilDownloaded)
	fmt.Printf("last polygon analysed:   %d\n", running.LastPolyAnalysed)
	fmt.Printf("consecutive stalls:      %d\n", running.ConsecutiveStalls)
	return nil
}
