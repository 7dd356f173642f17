package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/felho/pairflow/internal/bubble"
	"github.com/felho/pairflow/internal/paths"
	"github.com/felho/pairflow/internal/protocol"
)

var titleCaser = cases.Title(language.English)

// defaultListWidth is the column budget used when stdout isn't a
// terminal (a pipe or file) and x/term has nothing to measure.
const defaultListWidth = 80

func loadEngine(bubbleID string) (*protocol.Engine, error) {
	p, err := paths.Resolve(repoPath(), bubbleID)
	if err != nil {
		return nil, err
	}
	cfg, err := bubble.ParseFile(p.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading bubble config: %w", err)
	}
	return protocol.NewEngine(p, cfg), nil
}

func nowUTC() time.Time { return time.Now().UTC() }

var (
	createBaseBranch  string
	createImplementer string
	createReviewer    string
	createTaskFile    string
)

var createCmd = &cobra.Command{
	Use:     "create <bubble-id> <task>",
	GroupID: GroupLifecycle,
	Short:   "Create a new bubble",
	Long: `Create a new bubble: writes bubble.toml, the task artifact, the
initial CREATED state snapshot, and the opening TASK envelope.

Examples:
  pairflow create b_fix_login "Fix the login redirect loop"
  pairflow create b_refactor --implementer claude --reviewer codex -f task.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createBaseBranch, "base", "main", "base branch the bubble branches from")
	createCmd.Flags().StringVar(&createImplementer, "implementer", "codex", "implementer agent (codex|claude)")
	createCmd.Flags().StringVar(&createReviewer, "reviewer", "claude", "reviewer agent (codex|claude)")
	createCmd.Flags().StringVarP(&createTaskFile, "file", "f", "", "read the task description from a file instead of argv")
}

func runCreate(cmd *cobra.Command, args []string) error {
	bubbleID := args[0]
	var taskText string
	switch {
	case createTaskFile != "":
		data, err := os.ReadFile(createTaskFile)
		if err != nil {
			return fmt.Errorf("reading task file: %w", err)
		}
		taskText = string(data)
	case len(args) > 1:
		taskText = strings.Join(args[1:], " ")
	default:
		return fmt.Errorf("a task description is required, either as an argument or via --file")
	}

	p, err := paths.Resolve(repoPath(), bubbleID)
	if err != nil {
		return err
	}
	cfg, err := bubble.NewConfig(bubbleID, p.RepoRoot, createBaseBranch, bubble.Agent(createImplementer), bubble.Agent(createReviewer))
	if err != nil {
		return err
	}

	engine := protocol.NewEngine(p, cfg)
	snap, err := engine.Create(taskText)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (state=%s)\n", bubbleID, snap.Snapshot.State)
	return nil
}

var startCmd = &cobra.Command{
	Use:     "start <bubble-id>",
	GroupID: GroupLifecycle,
	Short:   "Bootstrap the workspace and begin round 0",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		snap, err := engine.Start()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is running (active=%s)\n", args[0], agentOrDash(snap.Snapshot.ActiveAgent))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <bubble-id>",
	GroupID: GroupDiag,
	Short:   "Show a bubble's lifecycle state and watchdog status",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		view, err := bubble.Status(repoPath(), args[0], nowUTC())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "bubble:       %s\n", view.BubbleID)
		fmt.Fprintf(out, "state:        %s\n", view.State)
		fmt.Fprintf(out, "round:        %d\n", view.Round)
		fmt.Fprintf(out, "active agent: %s\n", dashIfEmpty(view.ActiveAgent))
		fmt.Fprintf(out, "active role:  %s\n", titleCaseOrDash(view.ActiveRole))
		fmt.Fprintf(out, "branch:       %s -> %s\n", view.BaseBranch, view.BubbleBranch)
		fmt.Fprintf(out, "pending inbox: %d\n", view.PendingInboxCount)
		fmt.Fprintf(out, "messages:     %d\n", view.TranscriptMessageCount)
		if view.TranscriptMessageCount > 0 {
			fmt.Fprintf(out, "last message: %s at %s\n", view.LastMessageType, view.LastMessageAt.Format(time.RFC3339))
		} else {
			fmt.Fprintf(out, "last message: -\n")
		}
		if view.Watchdog.Monitored {
			if view.Watchdog.Expired {
				fmt.Fprintf(out, "watchdog:     EXPIRED\n")
			} else {
				fmt.Fprintf(out, "watchdog:     %ds remaining\n", view.Watchdog.RemainingSeconds)
			}
		} else {
			fmt.Fprintf(out, "watchdog:     not monitored\n")
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: GroupDiag,
	Short:   "List every bubble in this repository",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summaries, err := bubble.List(repoPath())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(summaries) == 0 {
			fmt.Fprintln(out, "no bubbles")
			return nil
		}
		idWidth := listIDColumnWidth()
		for _, s := range summaries {
			fmt.Fprintf(out, "%-*s %-24s round=%-3d active=%s\n", idWidth, s.BubbleID, s.State, s.Round, dashIfEmpty(s.ActiveAgent))
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:     "open <bubble-id>",
	GroupID: GroupLifecycle,
	Short:   "Attach to a running bubble's multiplexer session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bubble.Open(repoPath(), args[0])
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <bubble-id>",
	GroupID: GroupLifecycle,
	Short:   "Tear down a bubble's worktree, session, and files",
	Long: `Tear down a bubble's worktree, tmux session, registry entry, and
on-disk directory.

Refuses when the worktree has uncommitted changes, stashes, or unpushed
commits unless --force is given, in which case the bubble is removed
unconditionally (exit code 2 on refusal).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		result, err := engine.Delete(deleteForce)
		if err != nil {
			if result != nil && result.ExternalWork != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "refusing to delete %s, worktree has external work: %s\n", args[0], result.ExternalWork.String())
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "remove the bubble even with uncommitted worktree changes")
}

func agentOrDash(agent *string) string {
	if agent == nil {
		return "-"
	}
	return *agent
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func titleCaseOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return titleCaser.String(s)
}

// listIDColumnWidth sizes the bubble-id column against the real
// terminal width when stdout is a tty, the way the teacher's rig table
// renderer avoids wrapping on narrow terminals; it falls back to a
// fixed width when stdout is redirected to a file or pipe.
func listIDColumnWidth() int {
	const minWidth, maxWidth = 16, 40
	width := defaultListWidth
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	idWidth := width - 40
	if idWidth < minWidth {
		idWidth = minWidth
	}
	if idWidth > maxWidth {
		idWidth = maxWidth
	}
	return idWidth
}
