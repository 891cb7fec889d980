package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job runner, processing queued extraction/organization jobs",
	Long: `Worker starts the Job Runner (spec.md §5): it polls every pipeline queue
(notes:extract, entities:organize, notes:reprocess,
entities:compute-embeddings), each under its own concurrency cap, and
dispatches claimed jobs to the extraction/organization/materialize
handlers pm capture and pm session-sync enqueue work onto. Runs until
interrupted.

Example:
  pm worker`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	pipe, err := app.newPipeline()
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	runner := jobs.NewRunner(app.jobs, workerID, 0)
	pipe.Register(runner)

	ctx, cancel := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%s Worker %s processing notes:extract, entities:organize, notes:reprocess, entities:compute-embeddings... (Ctrl+C to stop)\n",
		passStyle.Render("✓"), accentStyle.Render(workerID))

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	fmt.Fprintln(os.Stderr, "\nStopped.")
	return nil
}
