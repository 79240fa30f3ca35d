package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/imkarma/drover/internal/agent"
	"github.com/imkarma/drover/internal/hosts"
	"github.com/imkarma/drover/internal/scheduler"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts [host-id]",
	Short: "List worker hosts",
	Long:  "Lists the configured worker hosts, whether each one is this machine, and how many tasks it takes per run.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHosts,
}

var hostsJSON bool

func init() {
	hostsCmd.Flags().BoolVar(&hostsJSON, "json", false, "Print the hosts as JSON")
	rootCmd.AddCommand(hostsCmd)
}

func runHosts(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	hs, err := loadHosts(cfg)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if _, ok := cfg.HostByID(args[0]); !ok {
			return fmt.Errorf("host %s is not configured", args[0])
		}
		for _, h := range hs {
			if h.ID == args[0] {
				hs = []hosts.Host{h}
				break
			}
		}
	}
	if hostsJSON {
		return writeJSON(os.Stdout, hs)
	}
	if len(hs) == 0 {
		fmt.Printf("%sNo hosts configured.%s Add some under hosts: in %s\n", colorDim, colorReset, droverPath("config.yaml"))
		return nil
	}

	total := 0
	for _, h := range hs {
		limit := scheduler.Limit(h, cfg.Defaults.MaxTasksPerHost)
		total += limit
		kind := colorCyan + "remote" + colorReset
		if h.IsLocal() {
			kind = colorGreen + "local " + colorReset
		}
		fmt.Printf("  %s%-12s%s %s %-28s capacity %-3d per run %-3d %s%s%s\n",
			colorBold, h.ID, colorReset, kind, h.Hostname, h.Capacity, limit,
			colorDim, h.ProjectPath, colorReset)
	}
	fmt.Printf("\n%s%d hosts%s, up to %d tasks per run\n", colorBold, len(hs), colorReset, total)

	if cfg.Dispatch.Enabled || cfg.Dispatch.Cmd != "" {
		if agent.CLIAvailable(cfg.Dispatch.Cmd) {
			printStatus("✓", "dispatch command "+cfg.Dispatch.Cmd+" found", color.FgGreen)
		} else {
			printStatus("⚠", "dispatch command "+cfg.Dispatch.Cmd+" not found on this machine", color.FgYellow)
		}
	}
	return nil
}
