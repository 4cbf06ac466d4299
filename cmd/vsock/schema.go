package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vango-dev/vsock/internal/demo"
)

func schemaCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the demo packet schema",
		Long: `Print the demo packet table and its fingerprint.

Clients send the fingerprint as the "schema" query parameter so the
server can detect peers that define packets in a different order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := demo.NewPackets().Schema
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Name        string `json:"name"`
					Version     string `json:"version"`
					Fingerprint string `json:"fingerprint"`
					Packets     any    `json:"packets"`
				}{s.Name(), s.Version(), s.Fingerprint(), s.Descriptors()})
			}

			fmt.Fprintf(out, "%s v%s  fingerprint %s\n\n", s.Name(), s.Version(), s.Fingerprint())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPAYLOAD")
			for _, d := range s.Descriptors() {
				payload := "yes"
				if d.Bare {
					payload = "-"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", d.ID, d.Name, payload)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")

	return cmd
}
