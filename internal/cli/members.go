package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canonica-labs/fedra/internal/config"
	"github.com/canonica-labs/fedra/internal/errors"
)

func (c *CLI) newMembersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Inspect the federation members file",
	}
	cmd.AddCommand(c.newMembersValidateCmd(), c.newMembersListCmd())
	return cmd
}

func (c *CLI) loadMembersFile() (*config.Members, error) {
	if c.membersPath == "" {
		return nil, errors.NewConfig("members", "no members file; use -d <members.yaml>")
	}
	return config.LoadMembers(c.membersPath)
}

func (c *CLI) newMembersValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the members file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := c.loadMembersFile()
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d members, all valid\n", c.membersPath, len(ms.Members))
			return nil
		},
	}
}

func (c *CLI) newMembersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured federation members",
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := c.loadMembersFile()
			if err != nil {
				return err
			}
			for _, m := range ms.Members {
				ask := ""
				if m.Type == config.MemberSparqlEndpoint && !m.SupportsAsk() {
					ask = " (no ASK support)"
				}
				fmt.Printf("%-20s %-18s %s%s\n", m.ID, m.Type, m.Location, ask)
			}
			return nil
		},
	}
}
