package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/config"
	"github.com/imkarma/drover/internal/history"
	"github.com/imkarma/drover/internal/signals"
	"github.com/imkarma/drover/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize drover in the current directory",
	Long:  "Creates a .drover/ directory with a default config, an empty backlog and the run history database.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	// Check if already initialized.
	if _, err := os.Stat(droverPath("config.yaml")); err == nil {
		return fmt.Errorf("drover already initialized in this directory (%s exists)", droverPath("config.yaml"))
	}

	// Create directories.
	for _, dir := range []string{droverPath("logs"), droverPath("reports"), signals.Dir(projectDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created "+projectDir+"/ directory structure", color.FgGreen)

	// Write default config.
	cfg := config.DefaultConfig()
	if projectDir != droverDirName {
		cfg.Store = droverPath("backlog.json")
	}
	if err := config.Save(droverPath("config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	printStatus("✓", "Wrote "+droverPath("config.yaml"), color.FgGreen)

	// Create the backlog unless one is already there.
	s := store.New(cfg.Store)
	if _, err := os.Stat(s.Path()); err == nil {
		printStatus("✓", "Using existing backlog "+s.Path(), color.FgGreen)
	} else {
		if err := s.Create(); err != nil {
			return fmt.Errorf("create backlog: %w", err)
		}
		printStatus("✓", "Created empty backlog "+s.Path(), color.FgGreen)
	}

	// Create the history database (migration runs automatically).
	ledger, err := history.New(droverPath("history.db"))
	if err != nil {
		return fmt.Errorf("create history database: %w", err)
	}
	ledger.Close()
	printStatus("✓", "Created run history", color.FgGreen)

	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to add your worker hosts\n", droverPath("config.yaml"))
	fmt.Println("  2. Preview a run: drover nightly --dry-run")
	fmt.Println("  3. Run: drover nightly")

	return nil
}
