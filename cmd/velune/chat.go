package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matiasleandrokruk/velune/internal/domain/chat"
	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/domain/relay"
	"github.com/matiasleandrokruk/velune/internal/infra/logging"
	"github.com/matiasleandrokruk/velune/internal/infra/relayclient"
	"github.com/matiasleandrokruk/velune/internal/infra/sqlite"
	"github.com/matiasleandrokruk/velune/internal/version"
)

const (
	greeting = "Hello! I am the E-Games Assistant."
	farewell = "Velune the E-Games Assistant: Goodbye!"
)

type chatStyles struct {
	user, assistant, notice lipgloss.Style
}

// newChatStyles renders colour only when out is a terminal.
func newChatStyles(out io.Writer) chatStyles {
	r := lipgloss.NewRenderer(out)
	return chatStyles{
		user:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("170")),
		notice:    r.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

func newChatCmd(a *app) *cobra.Command {
	var (
		ephemeral      bool
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the relay in the terminal",
		Long:  "Chat with the relay in the terminal. Type exit or quit to leave, /reset to clear the conversation.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if conversationID != "" {
				a.cfg.Client.ConversationID = conversationID
			}
			store, closeStore, err := openStore(ctx, a.cfg.Client.DBPath, ephemeral)
			if err != nil {
				return err
			}
			defer closeStore()

			client := relayclient.New(a.cfg.Client.RelayURL, a.cfg.Client.Token,
				relayclient.WithTokenHeader(a.cfg.Relay.TokenHeader),
				relayclient.WithUserAgent(version.UserAgent()),
				relayclient.WithLogger(logging.Component(a.log, "relayclient")),
			)
			ctrl, err := chat.NewController(ctx, chat.Config{
				Store:          store,
				ConversationID: a.cfg.Client.ConversationID,
				Model:          a.cfg.Relay.Model,
				Opener:         client,
				Logger:         logging.Component(a.log, "chat"),
			})
			if err != nil {
				return err
			}
			return repl(ctx, ctrl, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the conversation in memory only")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation slot (default from config)")
	return cmd
}

// openStore returns the SQLite store at path, or a memory store when ephemeral.
func openStore(ctx context.Context, path string, ephemeral bool) (conversation.Store, func(), error) {
	if ephemeral {
		return conversation.NewMemoryStore(), func() {}, nil
	}
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return conversation.NewSQLiteStore(db), func() { _ = db.Close() }, nil
}

// repl reads one line per turn until exit, quit or end of input.
// Ctrl-C during a reply cancels that turn only.
func repl(ctx context.Context, ctrl *chat.Controller, in io.Reader, out io.Writer) error {
	st := newChatStyles(out)
	fmt.Fprintln(out, greeting) //nolint:errcheck

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		fmt.Fprint(out, "\n"+st.user.Render("You:")+" ") //nolint:errcheck
		if !scanner.Scan() {
			fmt.Fprintln(out) //nolint:errcheck
			return scanner.Err()
		}
		text := scanner.Text()

		switch strings.ToLower(strings.TrimSpace(text)) {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(out, farewell) //nolint:errcheck
			return nil
		case "/reset":
			if err := ctrl.Reset(ctx); err != nil {
				fmt.Fprintln(out, st.notice.Render("could not reset: "+err.Error())) //nolint:errcheck
				continue
			}
			fmt.Fprintln(out, st.notice.Render("conversation cleared")) //nolint:errcheck
			continue
		}

		if err := turn(ctx, ctrl, text, out, st); err != nil {
			return err
		}
	}
}

// turn streams one reply. Relay failures are shown and the loop goes on;
// only an unexpected local error ends the session.
func turn(ctx context.Context, ctrl *chat.Controller, text string, out io.Writer, st chatStyles) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprint(out, st.assistant.Render("Velune:")+" ") //nolint:errcheck
	_, err := ctrl.Send(turnCtx, text, func(delta, _ string) {
		fmt.Fprint(out, delta) //nolint:errcheck
	})
	fmt.Fprintln(out) //nolint:errcheck

	switch {
	case err == nil:
		return nil
	case relay.KindOf(err) != relay.KindUnknown:
		fmt.Fprintln(out, st.notice.Render(describe(err))) //nolint:errcheck
		return nil
	default:
		return err
	}
}

// describe turns a relay failure into a line for the user.
func describe(err error) string {
	switch relay.KindOf(err) {
	case relay.KindAuth:
		return "The relay refused the access token: " + relay.Detail(err)
	case relay.KindValidation:
		return "The relay rejected the request: " + relay.Detail(err)
	case relay.KindUpstreamTimeout:
		return "The engine did not answer in time. Try again."
	case relay.KindCancelled:
		return "Reply cancelled."
	default:
		return "The reply was interrupted: " + relay.Detail(err)
	}
}
