package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/response"
)

func newAttachCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Manage message attachments",
	}

	add := &cobra.Command{
		Use:   "add <message-id> <path>",
		Short: "Parse a file and attach it to a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			att, err := a.svc.AttachFile(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			out := response.SlimAttachment{ID: att.ID, FileName: att.FileName, FileType: string(att.FileType), Size: len(att.Data)}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "attached %s (%s, %d bytes) to message %d\n", att.FileName, att.FileType, len(att.Data), id)
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <message-id> <file-name>",
		Short: "Remove a message's attachments with the given file name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			n, err := a.svc.RemoveAttachment(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), map[string]int64{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "removed %d attachments\n", n)
			})
		},
	}

	cmd.AddCommand(add, remove)
	return cmd
}

func newReplyCmd(a *app) *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "reply <chat-id>",
		Short: "Ask the model for the next assistant message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "chat")
			if err != nil {
				return err
			}
			var msg *store.Message
			if stream && !a.asJSON {
				w := cmd.OutOrStdout()
				msg, err = a.svc.ReplyStream(cmd.Context(), id, func(delta string) {
					fmt.Fprint(w, delta)
				})
				if err == nil {
					fmt.Fprintln(w)
				}
				return err
			}
			if msg, err = a.svc.Reply(cmd.Context(), id); err != nil {
				return err
			}
			slim := response.FromMessage(msg, false)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) {
				printMessages(w, []response.SlimMessage{slim})
			})
		},
	}
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Print the reply as it is generated")
	return cmd
}

func newRegenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <message-id>",
		Short: "Replace an assistant message, and everything after it, with a new reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "message")
			if err != nil {
				return err
			}
			msg, err := a.svc.Regenerate(cmd.Context(), id)
			if err != nil {
				return err
			}
			slim := response.FromMessage(msg, false)
			return a.print(cmd.OutOrStdout(), slim, func(w io.Writer) {
				printMessages(w, []response.SlimMessage{slim})
			})
		},
	}
}
