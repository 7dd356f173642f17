package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felho/pairflow/internal/envelope"
)

var (
	passRefs   []string
	passIntent string
)

var passCmd = &cobra.Command{
	Use:     "pass <bubble-id> <actor> <summary>",
	GroupID: GroupProtocol,
	Short:   "Hand the active round off to the other agent",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		summary := strings.Join(args[2:], " ")
		snap, err := engine.Pass(args[1], envelope.PassIntent(passIntent), summary, passRefs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "passed round %d to %s\n", snap.Snapshot.Round, agentOrDash(snap.Snapshot.ActiveAgent))
		return nil
	},
}

func init() {
	passCmd.Flags().StringSliceVar(&passRefs, "ref", nil, "file or line references to attach to the hand-off (repeatable)")
	passCmd.Flags().StringVar(&passIntent, "intent", string(envelope.PassIntentTask), "hand-off intent (task|review|fix_request)")
}

var askHumanRefs []string

var askHumanCmd = &cobra.Command{
	Use:     "ask-human <bubble-id> <question>",
	GroupID: GroupProtocol,
	Short:   "Escalate to the human and pause the bubble",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		question := strings.Join(args[1:], " ")
		if _, err := engine.AskHuman(question, askHumanRefs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is waiting on a human reply\n", args[0])
		return nil
	},
}

func init() {
	askHumanCmd.Flags().StringSliceVar(&askHumanRefs, "ref", nil, "file or line references to attach to the question (repeatable)")
}

var humanReplyCmd = &cobra.Command{
	Use:     "human-reply <bubble-id> <message>",
	GroupID: GroupProtocol,
	Short:   "Answer a pending human question and resume the bubble",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		message := strings.Join(args[1:], " ")
		if _, err := engine.HumanReply(message); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s resumed\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:     "resume <bubble-id>",
	GroupID: GroupProtocol,
	Short:   `Resume a bubble with the default "Please continue." reply`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		if _, err := engine.Resume(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s resumed\n", args[0])
		return nil
	},
}

var convergedCmd = &cobra.Command{
	Use:     "converged <bubble-id> <summary>",
	GroupID: GroupProtocol,
	Short:   "Reviewer declares convergence, ready for human approval",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		summary := strings.Join(args[1:], " ")
		if _, err := engine.Converged(summary); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is ready for approval\n", args[0])
		return nil
	},
}

var requestApprovalCmd = &cobra.Command{
	Use:     "request-approval <bubble-id>",
	GroupID: GroupProtocol,
	Short:   "Notify the human that a bubble is ready for approval",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		if err := engine.ApprovalRequest(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "approval requested for %s\n", args[0])
		return nil
	},
}

func decisionCmd(use, short string, decision envelope.Decision) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		GroupID: GroupProtocol,
		Short:   short,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine(args[0])
			if err != nil {
				return err
			}
			snap, err := engine.ApprovalDecision(decision)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], snap.Snapshot.State)
			return nil
		},
	}
}

var (
	approveCmd = decisionCmd("approve <bubble-id>", "Approve the bubble for commit", envelope.DecisionApprove)
	rejectCmd  = decisionCmd("reject <bubble-id>", "Reject the bubble and cancel it", envelope.DecisionReject)
	reviseCmd  = decisionCmd("revise <bubble-id>", "Send the bubble back for another round", envelope.DecisionRevise)
)

var commitRefs []string

var commitCmd = &cobra.Command{
	Use:     "commit <bubble-id> <message>",
	GroupID: GroupLifecycle,
	Short:   "Commit the approved worktree and close out the bubble",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := loadEngine(args[0])
		if err != nil {
			return err
		}
		message := strings.Join(args[1:], " ")
		snap, err := engine.Commit(message, commitRefs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", args[0], snap.Snapshot.State)
		return nil
	},
}

func init() {
	commitCmd.Flags().StringSliceVar(&commitRefs, "ref", nil, "file or line references to attach to the closing package (repeatable)")
}
