package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"election_ledger/pkg/election"
	"election_ledger/pkg/node"
)

func newTallyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tally",
		Short: "Print the persisted election results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			n, err := node.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating node: %w", err)
			}
			if err := n.Open(cmd.Context()); err != nil {
				return fmt.Errorf("opening node: %w", err)
			}
			defer n.Close(cmd.Context())

			return printTally(cmd.OutOrStdout(), n.Controller(), n.Ledger().GetTotalBalance())
		},
	}
}

func printTally(out io.Writer, c *election.Controller, ledgerTotal uint64) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Phase:\t%s\n", c.GetElectionStatus())
	fmt.Fprintf(w, "Round:\t%d\n", c.Round())
	fmt.Fprintf(w, "Administrator:\t%s\n", c.Administrator())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "ID\tCANDIDATE\tVOTES")
	for _, candidate := range c.GetAllCandidates() {
		fmt.Fprintf(w, "%d\t%s\t%d\n", candidate.ID, candidate.Name, candidate.VoteCount)
	}
	fmt.Fprintf(w, "\tTotal\t%d\n", c.GetTotalVotes())
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ledger balance:\t%d\n", ledgerTotal)

	return w.Flush()
}
