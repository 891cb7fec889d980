package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/spool"
	"github.com/steveyegge/pm/internal/types"
)

var (
	captureSource     string
	captureExternalID string
)

// spoolPath is where pm capture spools notes when the store is
// unreachable (SPEC_FULL.md's DOMAIN STACK entry for
// github.com/ncruces/go-sqlite3: "local SQLite-backed job dedup cache
// used by the CLI's offline capture path").
func spoolPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pm-spool.db"
	}
	return filepath.Join(home, ".pm", "spool.db")
}

var captureCmd = &cobra.Command{
	Use:   "capture <content>",
	Short: "Capture a raw note and queue it for extraction",
	Long: `Capture ingests free-form text as a raw note (spec.md §4.1) and enqueues
the notes:extract job that turns it into tasks, decisions, and insights.

Examples:
  pm capture "fix the flaky upload test before Friday, assign to dana"
  pm capture "decided to use Postgres over DynamoDB" --source slack`,
	Args: cobra.ExactArgs(1),
	RunE: runCapture,
}

var captureFlushCmd = &cobra.Command{
	Use:   "flush-spool",
	Short: "Drain notes captured while the store was unreachable",
	RunE:  runCaptureFlush,
}

func init() {
	captureCmd.Flags().StringVar(&captureSource, "source", string(types.SourceCLI), "Note source (cli, slack, voice_memo, meeting_transcript, obsidian, mcp, api)")
	captureCmd.Flags().StringVar(&captureExternalID, "external-id", "", "External id for sources that dedup on (source, externalId) rather than content")
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(captureFlushCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	content := args[0]
	source := types.NoteSource(captureSource)

	note := types.RawNote{
		Content:    content,
		Source:     source,
		CapturedAt: time.Now().UTC(),
	}
	if captureExternalID != "" {
		note.ExternalID = &captureExternalID
	} else {
		note.DedupeHash = types.DedupeHash(source, content, actorPtr())
	}
	if actor != "" {
		a := actor
		note.CapturedBy = &a
	}

	app, err := newAppContext(rootCtx)
	if err != nil {
		return spoolNote(cmd, note, fmt.Errorf("pm: connect to store: %w", err))
	}
	defer app.Close()

	captured, err := app.store.CaptureNote(rootCtx, note)
	if err != nil {
		return fmt.Errorf("capture note: %w", err)
	}

	pipe, err := app.newPipeline()
	if err != nil {
		return err
	}
	if err := pipe.EnqueueExtraction(rootCtx, captured.ID); err != nil {
		return fmt.Errorf("queue extraction: %w", err)
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(captured)
	}
	fmt.Printf("%s Captured note %s\n", passStyle.Render("✓"), accentStyle.Render(captured.ID.String()))
	fmt.Println(mutedStyle.Render("Queued for extraction."))
	return nil
}

// spoolNote appends a note to the local offline spool when the store
// could not be reached, rather than losing the capture outright.
func spoolNote(cmd *cobra.Command, note types.RawNote, storeErr error) error {
	sp, err := spool.Open(spoolPath())
	if err != nil {
		return fmt.Errorf("%w (spool also unavailable: %v)", storeErr, err)
	}
	defer sp.Close()
	if err := sp.Add(rootCtx, note); err != nil {
		return fmt.Errorf("%w (spool write failed: %v)", storeErr, err)
	}
	warnf("store unreachable (%v); note spooled locally. Run `pm flush-spool` once connectivity returns.", storeErr)
	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"spooled": true})
	}
	return nil
}

func runCaptureFlush(cmd *cobra.Command, args []string) error {
	sp, err := spool.Open(spoolPath())
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	defer sp.Close()

	pending, err := sp.List(rootCtx)
	if err != nil {
		return fmt.Errorf("list spool: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println(mutedStyle.Render("Spool is empty."))
		return nil
	}

	app, err := newAppContext(rootCtx)
	if err != nil {
		return fmt.Errorf("pm: connect to store: %w", err)
	}
	defer app.Close()

	pipe, err := app.newPipeline()
	if err != nil {
		return err
	}

	var flushed int
	for _, entry := range pending {
		captured, err := app.store.CaptureNote(rootCtx, entry.Note)
		if err != nil {
			warnf("flush: capture failed for spooled note %d: %v", entry.ID, err)
			continue
		}
		if err := pipe.EnqueueExtraction(rootCtx, captured.ID); err != nil {
			warnf("flush: queue extraction failed for %s: %v", captured.ID, err)
			continue
		}
		if err := sp.Remove(rootCtx, entry.ID); err != nil {
			warnf("flush: failed to remove spooled note %d: %v", entry.ID, err)
			continue
		}
		flushed++
	}

	fmt.Printf("%s flushed %d/%d spooled notes\n", passStyle.Render("✓"), flushed, len(pending))
	return nil
}

func actorPtr() *string {
	if actor == "" {
		return nil
	}
	return &actor
}
