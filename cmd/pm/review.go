package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/review"
	"github.com/steveyegge/pm/internal/types"
)

var reviewLimit int

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk the pending review queue interactively",
	Long: `Review walks pending review-queue items one at a time: an
AI-generated type_classification, project/epic/assignee suggestion, or
duplicate/epic-proposal flag (spec.md §4.7). For each item you can
accept the suggestion, reject it, modify it, or skip it for later.`,
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().IntVar(&reviewLimit, "limit", 20, "Max pending items to walk in one session")
	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	resolvedBy, err := resolveActorUserID(app)
	if err != nil {
		return err
	}

	pending := types.ReviewPending
	page, err := app.store.ListReviews(rootCtx, &pending, nil, reviewLimit, nil)
	if err != nil {
		return fmt.Errorf("list pending reviews: %w", err)
	}
	if len(page.Items) == 0 {
		fmt.Println(mutedStyle.Render("Review queue is empty."))
		return nil
	}

	engine := review.New(app.store)
	var resolved, skipped int
	for _, item := range page.Items {
		decision, comment, modified, err := promptReviewItem(item)
		if err != nil {
			if err == huh.ErrUserAborted {
				fmt.Fprintln(os.Stderr, mutedStyle.Render("Review session cancelled."))
				break
			}
			return fmt.Errorf("review form: %w", err)
		}
		if decision == "" {
			skipped++
			continue
		}

		var trainingComment *string
		if comment != "" {
			trainingComment = &comment
		}

		if _, err := engine.Resolve(rootCtx, item.ID, types.ReviewStatus(decision), resolvedBy, modified, trainingComment); err != nil {
			warnf("failed to resolve %s: %v", item.ID, err)
			continue
		}
		resolved++
	}

	fmt.Printf("%s %d resolved, %d skipped\n", passStyle.Render("✓"), resolved, skipped)
	return nil
}

// promptReviewItem renders one item's AI suggestion and asks the user to
// accept, reject, modify, or skip it, grounded on cmd/bd/create_form.go's
// grouped-field huh.Form pattern. An empty decision means "skip".
func promptReviewItem(item types.ReviewItem) (decision string, trainingComment string, modified map[string]any, err error) {
	suggestionJSON, _ := json.MarshalIndent(item.AISuggestion, "", "  ")
	fmt.Println()
	fmt.Printf("%s  %s  (confidence %.2f)\n", accentStyle.Render(string(item.ReviewType)), item.ID.String()[:8], item.AIConfidence)
	fmt.Println(mutedStyle.Render(string(suggestionJSON)))

	var action string
	var rawModified string
	var comment string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Resolution").
				Options(
					huh.NewOption("Accept suggestion", "accepted"),
					huh.NewOption("Reject suggestion", "rejected"),
					huh.NewOption("Modify suggestion", "modified"),
					huh.NewOption("Skip for now", ""),
				).
				Value(&action),

			huh.NewText().
				Title("Modified value (JSON object, only if modifying)").
				Placeholder(`{"suggestedProjectId": "..."}`).
				Value(&rawModified),

			huh.NewText().
				Title("Training comment (optional)").
				Description("Recorded alongside this resolution for future prompt tuning").
				Value(&comment),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return "", "", nil, err
	}

	if action == "modified" && strings.TrimSpace(rawModified) != "" {
		if err := json.Unmarshal([]byte(rawModified), &modified); err != nil {
			return "", "", nil, fmt.Errorf("invalid modified JSON: %w", err)
		}
	}

	return action, comment, modified, nil
}

// resolveActorUserID looks up the user named by --actor, matching by
// name or email; the review engine requires a concrete resolvedBy id
// even in this single-operator direct-mode CLI.
func resolveActorUserID(app *appContext) (uuid.UUID, error) {
	if actor == "" {
		return uuid.UUID{}, fmt.Errorf("--actor (or $USER) is required to resolve review items")
	}
	return lookupActorUserID(app, actor)
}

// optionalActorUserID resolves --actor the same way resolveActorUserID
// does, but returns nil instead of erroring when --actor is unset —
// for operations like pm status where a user-driven actor is recorded
// when known but isn't mandatory to proceed.
func optionalActorUserID(app *appContext) (*uuid.UUID, error) {
	if actor == "" {
		return nil, nil
	}
	id, err := lookupActorUserID(app, actor)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func lookupActorUserID(app *appContext, name string) (uuid.UUID, error) {
	if u, err := app.store.GetUserByEmail(rootCtx, name); err == nil {
		return u.ID, nil
	}
	users, err := app.store.ListUsers(rootCtx)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("resolve actor: %w", err)
	}
	for _, u := range users {
		if u.Name == name {
			return u.ID, nil
		}
	}
	return uuid.UUID{}, fmt.Errorf("no user found matching --actor %q", name)
}
