package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/internal/infra/sqlite"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		format         string
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if conversationID == "" {
				conversationID = a.cfg.Client.ConversationID
			}
			db, err := sqlite.Open(cmd.Context(), a.cfg.Client.DBPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			msgs, err := conversation.NewSQLiteStore(db).Load(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			return writeMessages(cmd.OutOrStdout(), msgs, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation slot (default from config)")

	cmd.AddCommand(newHistoryListCmd(a), newHistoryDeleteCmd(a))
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := sqlite.Open(cmd.Context(), a.cfg.Client.DBPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			summaries, err := conversation.NewSQLiteStore(db).List(cmd.Context())
			if err != nil {
				return err
			}
			return writeSummaries(cmd.OutOrStdout(), summaries, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json or yaml")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation>",
		Short: "Delete a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqlite.Open(cmd.Context(), a.cfg.Client.DBPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck

			if err := conversation.NewSQLiteStore(db).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0]) //nolint:errcheck
			return nil
		},
	}
}

func writeMessages(out io.Writer, msgs []conversation.Message, format string) error {
	switch format {
	case formatJSON:
		data, err := conversation.Marshal(msgs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case formatYAML:
		return encodeYAML(out, msgs)
	case formatText:
		for _, m := range msgs {
			if _, err := fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content); err != nil {
				return err
			}
		}
		return nil
	default:
		return usageError{fmt.Errorf("unknown format %q", format)}
	}
}

func writeSummaries(out io.Writer, summaries []conversation.Summary, format string) error {
	switch format {
	case formatJSON:
		return encodeJSON(out, summaries)
	case formatYAML:
		return encodeYAML(out, summaries)
	case formatText:
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONVERSATION\tMESSAGES\tUPDATED") //nolint:errcheck
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.ID, s.Messages, s.UpdatedAt) //nolint:errcheck
		}
		return tw.Flush()
	default:
		return usageError{fmt.Errorf("unknown format %q", format)}
	}
}

func encodeYAML(out io.Writer, v any) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("history: encode yaml: %w", err)
	}
	return enc.Close()
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("history: encode json: %w", err)
	}
	return nil
}
