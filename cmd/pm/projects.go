package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List or create projects",
}

var (
	projectsListLimit  int
	projectsListCursor string
)

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE:  runProjectsList,
}

var projectCreateDescription string

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsCreate,
}

func init() {
	projectsListCmd.Flags().IntVar(&projectsListLimit, "limit", store.DefaultLimit, "Max projects to return")
	projectsListCmd.Flags().StringVar(&projectsListCursor, "cursor", "", "Pagination cursor from a previous list call")
	projectsCreateCmd.Flags().StringVar(&projectCreateDescription, "description", "", "Project description")

	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	limit, err := store.ClampLimit(projectsListLimit)
	if err != nil {
		return err
	}
	var after *string
	if projectsListCursor != "" {
		after = &projectsListCursor
	}

	page, err := app.store.ListProjects(rootCtx, limit, after)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(page)
	}
	for _, p := range page.Items {
		desc := ""
		if p.Description != nil {
			desc = " - " + *p.Description
		}
		fmt.Printf("%s  %s%s  %s\n", accentStyle.Render(p.ID.String()), p.Name, mutedStyle.Render(desc), statusStyle(string(p.Status)))
	}
	if page.NextCursor != nil {
		fmt.Println(mutedStyle.Render("next cursor: " + *page.NextCursor))
	}
	return nil
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	var desc *string
	if projectCreateDescription != "" {
		desc = &projectCreateDescription
	}

	p, err := app.store.CreateProject(rootCtx, args[0], desc)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(p)
	}
	fmt.Printf("%s Created project %s (%s)\n", passStyle.Render("✓"), accentStyle.Render(p.Name), p.ID.String())
	return nil
}

// statusStyle colors known lifecycle statuses so list output (projects,
// tasks) matches cmd/bd's styled-status convention without needing a
// separate enum per resource.
func statusStyle(status string) string {
	switch status {
	case string(types.ProjectActive), types.TaskInProgress, types.TaskDone, types.DecisionDecided, types.InsightAcknowledged:
		return passStyle.Render(status)
	case string(types.ProjectArchived):
		return mutedStyle.Render(status)
	case types.TaskNeedsAction:
		return warnStyle.Render(status)
	default:
		return mutedStyle.Render(status)
	}
}
