package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felho/pairflow/internal/pferrors"
)

// Command group IDs, used by subcommands to organize help output the
// way the teacher's cmd.GroupWork/GroupAgents constants do.
const (
	GroupLifecycle = "lifecycle"
	GroupProtocol  = "protocol"
	GroupDiag      = "diag"
)

var repoFlag string

var rootCmd = &cobra.Command{
	Use:           "pairflow", // updated in init() based on PAIRFLOW_COMMAND
	Short:         "PairFlow - orchestrates a two-agent implementer/reviewer pair",
	Long:          "",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cmdName := Name()
	rootCmd.Use = cmdName
	rootCmd.Long = fmt.Sprintf(`PairFlow (%s) drives a single bubble through its implementer/reviewer
lifecycle: worktree bootstrap, round-by-round hand-offs, human
escalation, approval, and commit, backed by an append-only transcript
and a compare-and-set state snapshot.`, cmdName)

	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "repository root (defaults to the current directory)")

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupLifecycle, Title: "Bubble Lifecycle:"},
		&cobra.Group{ID: GroupProtocol, Title: "Protocol Messages:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.AddCommand(createCmd, startCmd, statusCmd, listCmd, openCmd, deleteCmd)
	rootCmd.AddCommand(passCmd, askHumanCmd, humanReplyCmd, resumeCmd, convergedCmd, requestApprovalCmd, approveCmd, rejectCmd, reviseCmd, commitCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func repoPath() string {
	if repoFlag != "" {
		return repoFlag
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// Execute runs the root command and returns an exit code. The caller
// (main) should call os.Exit with this code. Exit codes follow the
// contract in pferrors.ExitCode: 0 success, 1 generic failure, 2
// confirmation required (e.g. delete refused on a dirty worktree).
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name(), err)
	}
	return pferrors.ExitCode(err)
}
