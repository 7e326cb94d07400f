package main

import (
	"fmt"
	"strings"

	"github.com/ctt-hpc/ctt/pkg/log"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a single reconciliation pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.reconciler.ReconcileOnce(cmd.Context())
		if err != nil {
			return err
		}
		if res.Missing > 0 {
			log.Warn(fmt.Sprintf("%d tracked nodes were not reported by the scheduler", res.Missing))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "observed %d nodes, tracked %d, changed %d, missing %d\n",
			res.Observed, res.Tracked, res.Changed, res.Missing)
		return nil
	},
}

var topologyCmd = &cobra.Command{
	Use:   "topology NODE...",
	Short: "Show how ctt groups nodes",
	Long:  `Show whether each node is real, and which siblings and cousins an issue on it would reach.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		topo, err := topology.NewRangeTopology(cfg.NodeTypes)
		if err != nil {
			return err
		}
		for _, name := range args {
			printTopology(cmd, topo, name)
		}
		return nil
	},
}

func printTopology(cmd *cobra.Command, topo *topology.RangeTopology, name string) {
	out := cmd.OutOrStdout()
	nodeType, ok := topo.NodeType(name)
	if !ok {
		fmt.Fprintf(out, "%s: not a real node\n", name)
		return
	}
	fmt.Fprintf(out, "%s (%s)\n", name, nodeType)
	fmt.Fprintf(out, "  siblings: %s\n", strings.Join(topo.Siblings(name), " "))
	fmt.Fprintf(out, "  cousins:  %s\n", strings.Join(topo.Cousins(name), " "))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ctt version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
