package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/parser"
	"github.com/kittclouds/convstore/pkg/response"
)

func newMessagesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "List and manage messages",
	}
	cmd.AddCommand(
		newMessagesListCmd(a),
		newMessagesShowCmd(a),
		newMessagesSendCmd(a),
		newMessagesEditCmd(a),
		newMessagesDeleteCmd(a),
		newMessagesClearCmd(a),
	)
	return cmd
}

func printMessages(w io.Writer, msgs []response.SlimMessage) {
	for _, m := range msgs {
		fmt.Fprintf(w, "[%d] %s %s: %s\n", m.ID, time.Unix(m.Timestamp, 0).Format(time.DateTime), m.Role, m.Content)
		for _, att := range m.Attachments {
			fmt.Fprintf(w, "      + %s (%s, %d bytes)\n", att.FileName, att.FileType, att.Size)
		}
	}
}

func newMessagesListCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list [chat-id]",
		Short: "List a chat's messages in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				msgs []*store.Message
				err  error
			)
			switch {
			case all:
				msgs, err = a.svc.ListAllMessages(cmd.Context())
			case len(args) == 1:
				var id int64
				if id, err = parseID(args[0], "chat"); err != nil {
					return err
				}
				msgs, err = a.svc.ListMessages(cmd.Context(), id)
			default:
				return fmt.Errorf("a chat id or --all is required")
			}
			if err != nil {
				return err
			}
			slim := response.FromMessages(msgs, false)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) { printMessages(w, slim) })
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "List messages from every chat")
	return cmd
}

func newMessagesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <message-id>",
		Short: "Show one message with its attachment data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			m, err := a.svc.GetMessage(cmd.Context(), id)
			if err != nil {
				return err
			}
			slim := response.FromMessage(m, true)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) {
				printMessages(w, []response.SlimMessage{slim})
				for _, att := range slim.Attachments {
					fmt.Fprintf(w, "\n--- %s ---\n%s\n", att.FileName, att.Data)
				}
			})
		},
	}
}

func newMessagesSendCmd(a *app) *cobra.Command {
	var (
		files []string
		role  string
		reply bool
	)

	cmd := &cobra.Command{
		Use:   "send <chat-id> <content>",
		Short: "Append a message to a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			atts := make([]store.NewAttachment, 0, len(files))
			for _, path := range files {
				parsed, err := parser.Parse(path)
				if err != nil {
					return err
				}
				atts = append(atts, parsed.Attachment())
			}

			msg, err := a.svc.CreateMessage(cmd.Context(), store.NewMessage{
				ChatID:      chatID,
				Role:        store.Role(role),
				Content:     strings.Join(args[1:], " "),
				Attachments: atts,
			})
			if err != nil {
				return err
			}
			out := []*store.Message{msg}
			if reply {
				answer, err := a.svc.Reply(cmd.Context(), chatID)
				if err != nil {
					return err
				}
				out = append(out, answer)
			}
			slim := response.FromMessages(out, false)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) { printMessages(w, slim) })
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "Attach a parsed file (csv, xlsx, json, txt, md)")
	cmd.Flags().StringVar(&role, "role", string(store.RoleUser), "Message role: user, assistant or system")
	cmd.Flags().BoolVar(&reply, "reply", false, "Ask the model for a reply afterwards")
	return cmd
}

func newMessagesEditCmd(a *app) *cobra.Command {
	var reply bool

	cmd := &cobra.Command{
		Use:   "edit <message-id> <content>",
		Short: "Edit a message; every later message in the chat is discarded",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			content := strings.Join(args[1:], " ")

			if reply {
				answer, err := a.svc.EditAndReply(cmd.Context(), id, content)
				if err != nil {
					return err
				}
				slim := response.FromMessage(answer, false)
				return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) {
					printMessages(w, []response.SlimMessage{slim})
				})
			}

			edit, err := a.svc.EditMessage(cmd.Context(), id, store.MessageUpdate{Content: &content})
			if err != nil {
				return err
			}
			slim := response.FromMessage(edit.Message, false)
			out := map[string]any{"message": slim, "truncated": edit.Truncated}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				printMessages(w, []response.SlimMessage{slim})
				fmt.Fprintf(w, "discarded %d later messages\n", len(edit.Truncated))
			})
		},
	}
	cmd.Flags().BoolVar(&reply, "reply", false, "Ask the model for a fresh reply after editing")
	return cmd
}

func newMessagesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete a message and every later message in its chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			tr, err := a.svc.DeleteMessage(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := map[string]any{"chat_id": tr.ChatID, "removed": tr.Removed}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %d messages from chat %d\n", len(tr.Removed), tr.ChatID)
			})
		},
	}
}

func newMessagesClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every message in every chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear all messages without --yes")
			}
			n, err := a.svc.ClearAllMessages(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]int64{"messages_removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "cleared %d messages\n", n)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all messages")
	return cmd
}
