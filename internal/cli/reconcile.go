package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/pflog"
	"github.com/felho/pairflow/internal/protocol"
)

var reconcileLog = pflog.Default()

// watchDebounce is how long watchReconcile waits for the fsnotify event
// stream to go quiet before re-running reconcile: a single state.json
// rewrite fires several raw events (write, chmod, rename-into-place for
// an atomic writer), and reconciling on every one of them would thrash.
const watchDebounce = 250 * time.Millisecond

var (
	reconcileWatchdogMinutes int
	reconcileStuckMultiple   int
	reconcileDryRun          bool
	reconcileWatch           bool
)

var reconcileCmd = &cobra.Command{
	Use:     "reconcile",
	GroupID: GroupDiag,
	Short:   "Reconcile the runtime registry against live tmux sessions",
	Long: `Reconcile drops registry entries whose multiplexer session died or
whose bubble reached a terminal state, and reports (without touching)
any bubble whose active hand-off has gone unanswered for longer than
the watchdog timeout times --stuck-multiple.

With --watch, reconcile re-runs every time a bubble's state.json
changes, so a long-lived terminal can show drift as it happens.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileWatchdogMinutes, "watchdog-minutes", 10, "watchdog timeout in minutes, matching the bubble's configured value")
	reconcileCmd.Flags().IntVar(&reconcileStuckMultiple, "stuck-multiple", protocol.DefaultStuckMultiple, "how many watchdog timeouts of inactivity before a bubble is reported stuck")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report what would change without removing anything")
	reconcileCmd.Flags().BoolVar(&reconcileWatch, "watch", false, "keep running, re-reconciling whenever a bubble's state changes")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if reconcileWatch {
		return watchReconcile(cmd)
	}
	return reconcileOnce(cmd)
}

func reconcileOnce(cmd *cobra.Command) error {
	timeout := time.Duration(reconcileWatchdogMinutes) * time.Minute
	report, err := protocol.Reconcile(repoPath(), timeout, reconcileStuckMultiple, reconcileDryRun, time.Now().UTC())
	if err != nil {
		return err
	}
	printReconcileReport(cmd, report)
	return nil
}

func printReconcileReport(cmd *cobra.Command, report *protocol.Report) {
	out := cmd.OutOrStdout()
	if len(report.StaleEntries) == 0 && len(report.StuckBubbles) == 0 {
		fmt.Fprintln(out, "nothing to reconcile")
		return
	}
	for _, entry := range report.StaleEntries {
		verb := "removed"
		if !entry.Removed {
			verb = "would remove"
		}
		fmt.Fprintf(out, "stale registry entry %s (%s), %s\n", entry.BubbleID, entry.Reason, verb)
	}
	for _, stuck := range report.StuckBubbles {
		fmt.Fprintf(out, "stuck: %s state=%s active=%s/%s overdue=%s\n", stuck.BubbleID, stuck.State, stuck.ActiveAgent, stuck.ActiveRole, stuck.OverdueBy)
	}
}

// watchReconcile runs one reconcile pass immediately, then re-runs
// whenever fsnotify reports a change to a bubble's state.json, the
// way a file-watching dev tool re-triggers a build on every source
// change.
func watchReconcile(cmd *cobra.Command) error {
	if err := reconcileOnce(cmd); err != nil {
		return err
	}

	bubblesRoot, err := paths.BubblesRoot(repoPath())
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, bubblesRoot); err != nil {
		return err
	}

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != "state.json" {
				continue
			}
			reconcileLog.Debugf("state change at %s, scheduling reconcile", event.Name)
			if pending && !debounce.Stop() {
				<-debounce.C
			}
			pending = true
			debounce.Reset(watchDebounce)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			reconcileLog.Warnf("watch: %v", watchErr)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := reconcileOnce(cmd); err != nil {
				reconcileLog.Warnf("reconcile: %v", err)
			}
		}
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	entries, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		return fmt.Errorf("globbing %s: %w", root, err)
	}
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	for _, dir := range entries {
		_ = watcher.Add(dir)
	}
	return nil
}
