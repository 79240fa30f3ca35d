package cli

import (
	"github.com/spf13/cobra"
)

var (
	projectDir  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "drover",
	Short: "Keep a shared task backlog moving",
	Long: `drover — classifies backlog tasks, sends the ones that need a person to Review,
and assigns the ones that can run unattended to a bounded pool of worker hosts.
Every change is recorded on the task itself.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", droverDirName, "Project directory holding config, logs and history")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Mirror logs to stderr with debug detail")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}
