package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/steveyegge/pm/internal/pipeline"
	"github.com/steveyegge/pm/internal/types"
)

var (
	sessionSyncDebounce time.Duration
	sessionSyncSince    string
)

var sessionSyncCmd = &cobra.Command{
	Use:   "session-sync <vault-dir>",
	Short: "Watch an Obsidian vault and capture notes as .md files change",
	Long: `Session-sync watches a directory of markdown files (an Obsidian vault,
or any similarly-structured notes folder) and captures each changed
file's contents as a raw note from the obsidian source (spec.md §4.1),
queuing it for extraction. Runs until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionSync,
}

func init() {
	sessionSyncCmd.Flags().DurationVar(&sessionSyncDebounce, "debounce", 500*time.Millisecond, "Debounce window for rapid successive writes to the same file")
	sessionSyncCmd.Flags().StringVar(&sessionSyncSince, "since", "", "Backfill files modified since this time before watching (natural language, e.g. \"yesterday\")")
	rootCmd.AddCommand(sessionSyncCmd)
}

func runSessionSync(cmd *cobra.Command, args []string) error {
	vaultDir := args[0]
	if info, err := os.Stat(vaultDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", vaultDir)
	}

	app, err := newAppContext(rootCtx)
	if err != nil {
		return err
	}
	defer app.Close()

	pipe, err := app.newPipeline()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, vaultDir); err != nil {
		return fmt.Errorf("watch %s: %w", vaultDir, err)
	}

	since, err := parseSince(sessionSyncSince)
	if err != nil {
		return err
	}
	if since != nil {
		if err := backfill(app, pipe, vaultDir, *since); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
	}

	fmt.Printf("%s Watching %s for changes... (Ctrl+C to stop)\n", passStyle.Render("✓"), accentStyle.Render(vaultDir))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	debounced := map[string]*time.Timer{}
	sync := func(path string) {
		if err := syncNote(app, pipe, path); err != nil {
			warnf("failed to sync %s: %v", path, err)
			return
		}
		fmt.Printf("%s synced %s\n", passStyle.Render("↻"), filepath.Base(path))
	}

	for {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nStopped watching.")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			path := event.Name
			if t, exists := debounced[path]; exists {
				t.Stop()
			}
			debounced[path] = time.AfterFunc(sessionSyncDebounce, func() { sync(path) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			warnf("watcher error: %v", err)
		}
	}
}

// backfill captures every markdown file modified since the given time
// before the watch loop starts, so a --since run also picks up edits
// made while pm session-sync was not running.
func backfill(app *appContext, pipe *pipeline.Pipeline, vaultDir string, since time.Time) error {
	return filepath.Walk(vaultDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		if info.ModTime().Before(since) {
			return nil
		}
		if err := syncNote(app, pipe, path); err != nil {
			warnf("backfill: failed to sync %s: %v", path, err)
		}
		return nil
	})
}

// addRecursive registers every subdirectory with the watcher, since
// fsnotify does not watch directory trees recursively on its own.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// syncNote reads one changed markdown file and captures it as a raw
// note from the obsidian source. Raw notes are append-only (spec.md
// §3), so this deliberately leaves externalId unset and dedupes on
// content via dedupeHash instead: an unchanged file produces the same
// hash and is a no-op, while each distinct edit becomes its own note
// and is queued for extraction.
func syncNote(app *appContext, pipe *pipeline.Pipeline, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	var capturedBy *string
	if actor != "" {
		a := actor
		capturedBy = &a
	}

	note := types.RawNote{
		Content:    string(content),
		Source:     types.SourceObsidian,
		CapturedAt: time.Now().UTC(),
		CapturedBy: capturedBy,
		SourceMeta: map[string]any{"filePath": abs},
		DedupeHash: types.DedupeHash(types.SourceObsidian, string(content), capturedBy),
	}

	captured, err := app.store.CaptureNote(rootCtx, note)
	if err != nil {
		return fmt.Errorf("capture note: %w", err)
	}
	return pipe.EnqueueExtraction(rootCtx, captured.ID)
}
