package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/common"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/store"
	"github.com/steveyegge/pm/internal/types"
)

// sinceParser resolves natural-language --since flags ("yesterday",
// "3 days ago", "last monday") on pm tasks list and pm session-sync.
var sinceParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince resolves a --since flag, empty meaning "no lower bound".
func parseSince(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	r, err := sinceParser.Parse(raw, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid --since %q: %w", raw, err)
	}
	if r == nil {
		return nil, fmt.Errorf("could not parse --since %q", raw)
	}
	t := r.Time
	return &t, nil
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List task entities",
}

var (
	tasksListProject string
	tasksListStatus  string
	tasksListLimit   int
	tasksListCursor  string
	tasksListSince   string
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List task entities, optionally scoped to a project or status",
	RunE:  runTasksList,
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksListProject, "project", "", "Project id to scope the list to")
	tasksListCmd.Flags().StringVar(&tasksListStatus, "status", "", "Filter by status (captured, needs_action, in_progress, done)")
	tasksListCmd.Flags().IntVar(&tasksListLimit, "limit", store.DefaultLimit, "Max tasks to return")
	tasksListCmd.Flags().StringVar(&tasksListCursor, "cursor", "", "Pagination cursor from a previous list call")
	tasksListCmd.Flags().StringVar(&tasksListSince, "since", "", "Only show tasks created since this time (natural language, e.g. \"yesterday\", \"3 days ago\")")

	tasksCmd.AddCommand(tasksListCmd)
	rootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	limit, err := store.ClampLimit(tasksListLimit)
	if err != nil {
		return err
	}

	since, err := parseSince(tasksListSince)
	if err != nil {
		return err
	}

	var projectID *uuid.UUID
	if tasksListProject != "" {
		id, err := uuid.Parse(tasksListProject)
		if err != nil {
			return fmt.Errorf("invalid --project id: %w", err)
		}
		projectID = &id
	}
	var after *string
	if tasksListCursor != "" {
		after = &tasksListCursor
	}

	page, err := app.store.ListEntities(rootCtx, projectID, limit, after)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	var tasks []types.Entity
	for _, e := range page.Items {
		if e.Type != types.EntityTask {
			continue
		}
		if tasksListStatus != "" && e.Status != tasksListStatus {
			continue
		}
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		tasks = append(tasks, e)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(tasks)
	}
	for _, t := range tasks {
		assignee := ""
		if t.AssigneeID != nil {
			assignee = mutedStyle.Render(" @" + t.AssigneeID.String()[:8])
		}
		fmt.Printf("%s  %s  %s%s\n", accentStyle.Render(t.ID.String()[:8]), statusStyle(t.Status), truncate(t.Content, 70), assignee)
	}
	if page.NextCursor != nil {
		fmt.Println(mutedStyle.Render("next cursor: " + *page.NextCursor))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
