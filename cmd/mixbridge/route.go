package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mixbridge/internal/domain"
	"mixbridge/internal/topology"
)

var routeMode string

var routeCmd = &cobra.Command{
	Use:   "route <address>...",
	Short: "Show where domain addresses are routed",
	Long: `Resolve domain addresses against the configured topology and print the
endpoint and device address each write would reach.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := cfg.DomainTopology()
		if err != nil {
			return err
		}
		if routeMode != "" {
			mode, err := domain.ParseTopologyMode(routeMode)
			if err != nil {
				return err
			}
			tc.Mode = mode
			if err := tc.Validate(); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "mode %s, capacity %d, limit %d\n", tc.Mode, topology.Capacity(tc), topology.Limit(tc))
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ADDRESS\tENDPOINT\tDEVICE ADDRESS")
		for _, arg := range args {
			addr, err := strconv.Atoi(arg)
			if err != nil {
				return fmt.Errorf("address %q: %w", arg, domain.ErrInvalidAddress)
			}
			targets, err := topology.Resolve(tc, addr)
			if err != nil {
				fmt.Fprintf(tw, "%d\t-\t%v\n", addr, err)
				continue
			}
			for _, t := range targets {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", addr, t.Endpoint, t.Address)
			}
		}
		return tw.Flush()
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeMode, "mode", "", "resolve under this topology mode instead of the configured one")
}
