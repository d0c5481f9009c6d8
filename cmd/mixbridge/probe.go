package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mixbridge/internal/domain"
	"mixbridge/internal/probe"
)

var (
	probeTCP  bool
	probeJSON bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the configured endpoints answer on their control ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := cfg.DomainTopology()
		if err != nil {
			return err
		}
		endpoints := []domain.Endpoint{tc.Primary}
		if tc.Secondary != nil {
			endpoints = append(endpoints, *tc.Secondary)
		}

		p := probe.New(
			probe.WithTimeout(cfg.Probe.Timeout.Duration()),
			probe.WithPorts(probe.JoinPorts(cfg.Probe.Ports)),
			probe.WithTCP(cfg.Probe.TCP || probeTCP),
			probe.WithLogger(appLogger.Named("probe")),
		)
		if !p.Available(cmd.Context()) {
			return fmt.Errorf("nmap is not available")
		}

		results, err := p.Probe(cmd.Context(), endpoints)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if probeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENDPOINT\tHOST\tUP\tCONTROL PORT\tSTATUS")
		unreachable := 0
		for i, r := range results {
			status := "reachable"
			if !r.Reachable(endpoints[i].Port) {
				status = "unreachable"
				unreachable++
			}
			if r.Error != "" {
				status = r.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", r.Endpoint, r.Host, r.Up, endpoints[i].Port, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if unreachable > 0 {
			return fmt.Errorf("%d of %d endpoints unreachable", unreachable, len(results))
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeTCP, "tcp", false, "use a TCP connect scan (no raw socket privileges needed)")
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "print results as JSON")
}
