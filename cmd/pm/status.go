package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <entity-id> <new-status>",
	Short: "Change an entity's status and record the transition",
	Long: `Status patches one entity's status field, appending a status_change
activity event when the status changes (spec.md §9 invariant i).

Example:
  pm status 7c2e... in_progress`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid entity id: %w", err)
	}
	newStatus := args[1]

	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	actorID, err := optionalActorUserID(app)
	if err != nil {
		return err
	}

	updated, err := app.store.TransitionEntityStatus(rootCtx, id, newStatus, actorID)
	if err != nil {
		return fmt.Errorf("transition entity status: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(updated)
	}
	fmt.Printf("%s %s is now %s\n", passStyle.Render("✓"), accentStyle.Render(updated.ID.String()), statusStyle(updated.Status))
	return nil
}
