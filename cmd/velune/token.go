package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/velune/pkg/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create and hash relay access tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Print a random access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token) //nolint:errcheck
			return nil
		},
	}, &cobra.Command{
		Use:   "hash [token]",
		Short: "Print the bcrypt hash of a token for VELUNE_TOKEN_HASH",
		Long:  "Print the bcrypt hash of a token for VELUNE_TOKEN_HASH. Without an argument the token is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("token hash: no token on stdin")
				}
				token = strings.TrimSpace(line)
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash) //nolint:errcheck
			return nil
		},
	})
	return cmd
}
