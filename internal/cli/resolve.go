package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/approval"
	"github.com/imkarma/drover/internal/classify"
	"github.com/imkarma/drover/internal/transition"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [task-id] [decision]",
	Short: "Record a decision on a Review task",
	Long: `Answers the open question on a Review task. The decision is added as a
comment, the clarification marker is marked resolved, and the task moves
back to Todo so the next run can pick it up.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runResolve,
}

var resolveKeep bool

func init() {
	resolveCmd.Flags().BoolVar(&resolveKeep, "keep", false, "Leave the task in Review after recording the decision")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	_, s, err := mustStore()
	if err != nil {
		return err
	}
	snap, err := loadSnapshot(s)
	if err != nil {
		return err
	}

	id := args[0]
	task, ok := snap.Task(id)
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	question, _ := classify.Clarification(task)

	decision := strings.Join(args[1:], " ")
	next, err := approval.Resolve(snap, transition.NewManager(), approval.Resolution{
		TaskID:   id,
		Decision: decision,
		Reopen:   !resolveKeep,
	})
	if err != nil {
		return err
	}
	if err := transition.Persist(s, snap); err != nil {
		return err
	}

	fmt.Printf("Resolved task %s (now %s%s%s)\n", id, statusColor(next.Status), next.Status, colorReset)
	if question != "" {
		fmt.Printf("  Question was: %s\n", question)
	}
	fmt.Printf("  Decision:     %s\n", decision)
	return nil
}
