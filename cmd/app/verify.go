package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"election_ledger/pkg/node"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify persisted event signatures and state invariants",
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
			// Open replays the journal and checks state invariants
			if err := n.Open(cmd.Context()); err != nil {
				return fmt.Errorf("state verification failed: %w", err)
			}
			defer n.Close(cmd.Context())

			if n.PublicKey() == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "state OK; event signing is disabled")
				return nil
			}

			count, err := n.VerifyJournal(cmd.Context())
			if err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}

			logger.Info("Journal verified", zap.Int("events", count))
			fmt.Fprintf(cmd.OutOrStdout(), "state OK; %d signed events verified\npublic key: %s\n", count, n.PublicKeyString())
			return nil
		},
	}
}
