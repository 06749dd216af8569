package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittclouds/convstore/pkg/response"
)

func newChatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List and manage chats",
	}
	cmd.AddCommand(
		newChatsListCmd(a),
		newChatsCreateCmd(a),
		newChatsRenameCmd(a),
		newChatsDeleteCmd(a),
		newChatsExportCmd(a),
	)
	return cmd
}

func newChatsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chats, err := a.svc.ListChats(cmd.Context(), a.cfg.UserID)
			if err != nil {
				return err
			}
			slim := response.FromChats(chats)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) {
				for _, c := range slim {
					fmt.Fprintf(w, "%d\t%s\t%s\n", c.ID, time.Unix(c.CreatedAt, 0).Format(time.DateTime), c.Title)
				}
			})
		},
	}
}

func newChatsCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create [title]",
		Short: "Create a chat",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.svc.CreateChat(cmd.Context(), a.cfg.UserID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), response.FromChat(c), func(w io.Writer) {
				fmt.Fprintf(w, "%d\t%s\n", c.ID, c.Title)
			})
		},
	}
}

func newChatsRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <chat-id> <title>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			c, err := a.svc.RenameChat(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), response.FromChat(c), func(w io.Writer) {
				fmt.Fprintf(w, "%d\t%s\n", c.ID, c.Title)
			})
		},
	}
}

func newChatsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat with all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			del, err := a.svc.DeleteChat(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := map[string]any{"chat_id": id, "messages_removed": len(del.MessageIDs)}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "deleted chat %d (%d messages)\n", id, len(del.MessageIDs))
			})
		},
	}
}

func newChatsExportCmd(a *app) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export one chat as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			data, err := a.svc.ExportChat(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), outPath, data)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to file instead of stdout")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, string(data))
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
