// velune relays a local generation engine's token stream to a terminal chat client.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/velune/internal/infra/config"
	"github.com/matiasleandrokruk/velune/internal/infra/logging"
	"github.com/matiasleandrokruk/velune/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// usageError marks failures caused by bad arguments; they exit with 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// app carries what every subcommand shares once the root command ran.
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
}

// run executes the command line. Command output goes to out; logs and
// errors go to errOut so piped output stays machine-readable.
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd(&app{})
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(errOut, "Error:", err) //nolint:errcheck
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "velune",
		Short:         "Streaming chat relay and terminal client",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String()) //nolint:errcheck
			return nil
		},
	}
	root.SetVersionTemplate(version.String() + "\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("VELUNE_CONFIG"), "path to a .yaml or .toml config file")

	root.AddCommand(
		newServeCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
		newMigrateCmd(a),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, logOut)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String()) //nolint:errcheck
			return nil
		},
	}
}
