// Command pm is the interactive CLI surface of spec.md §6, reduced from
// the teacher's cmd/bd to the subcommands the spec names: config,
// capture, projects, tasks, status, review, session-sync. Like cmd/bd it
// operates directly against the store (no daemon layer exists here; the
// HTTP API is a separate, out-of-scope shell per spec.md §1), wiring
// cobra + viper the way cmd/bd/main.go and internal/config do.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/pm/internal/config"
	"github.com/steveyegge/pm/internal/eventbus"
	"github.com/steveyegge/pm/internal/jobs"
	"github.com/steveyegge/pm/internal/llm"
	"github.com/steveyegge/pm/internal/pipeline"
	"github.com/steveyegge/pm/internal/store"
)

var (
	jsonOutput bool
	actor      string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"})
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"})
)

var rootCmd = &cobra.Command{
	Use:   "pm",
	Short: "Capture notes, review AI-extracted work items, and manage projects",
	Long: `pm ingests free-form notes, asks an LLM to extract tasks, decisions, and
insights, and queues anything it isn't confident about for your review.

Examples:
  pm capture "fix the flaky upload test before Friday, assign to dana"
  pm tasks list --project <project-id>
  pm review`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.pm")
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config.yaml: %v\n", err)
		}
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor name recorded on review resolutions (default: $USER)")
	if actor == "" {
		actor = os.Getenv("USER")
	}
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// appContext bundles the dependencies a command needs to reach the
// store and the job queue directly, mirroring cmd/bd's direct (no
// -daemon) mode rather than its RPC client path — this CLI has no
// daemon to speak to.
type appContext struct {
	cfg   *config.Config
	bus   *eventbus.Bus
	store *store.Store
	jobs  *jobs.Store
	pool  *pgxpool.Pool
}

func newAppContext(ctx context.Context) (*appContext, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("pm: load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pm: connect to database: %w", err)
	}

	bus := eventbus.New()
	s, err := store.Open(ctx, cfg.DatabaseURL, bus)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pm: open store: %w", err)
	}

	return &appContext{cfg: cfg, bus: bus, store: s, jobs: jobs.NewStore(pool), pool: pool}, nil
}

func (a *appContext) Close() {
	a.store.Close()
	a.pool.Close()
}

func (a *appContext) newPipeline() (*pipeline.Pipeline, error) {
	client, err := llm.New(a.cfg.AnthropicAPIKey, a.cfg.AnthropicExtractionModel)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.store, a.jobs, client, pipeline.Config{
		Extraction:   extractionConfig(a.cfg),
		Organization: organizationConfig(a.cfg),
		Materialize:  materializeConfig(a.cfg),
	}), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, failStyle.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}

func warnf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf(format, args...)))
}
