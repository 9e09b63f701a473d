package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/service"
)

func (a *app) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List every mailbox on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				folders, err := svc.ListFolders(ctx)
				if err != nil {
					return err
				}
				if a.asJSON {
					return printJSON(cmd.OutOrStdout(), folders)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderFolders(folders))
				return nil
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message counts for INBOX, Sent, Drafts, Spam and Trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				stats, err := svc.FolderStats(ctx)
				if err != nil {
					return err
				}
				if a.asJSON {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStats(stats))
				return nil
			})
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var opts model.ListOptions

	cmd := &cobra.Command{
		Use:   "list [folder]",
		Short: "List the newest messages of a folder",
		Long: "List the newest messages of a folder. The folder may be a server path\n" +
			"or one of INBOX, Sent, Drafts, Spam and Trash.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := "INBOX"
			if len(args) == 1 {
				folder = args[0]
			}
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.ListMessages(ctx, folder, opts)
				if err != nil {
					return err
				}
				if a.asJSON {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderList(folder, res))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of messages to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip this many of the newest messages")
	return cmd
}

func parseUID(s string) (uint32, error) {
	uid, err := strconv.ParseUint(s, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid uid %q", s)
	}
	return uint32(uid), nil
}

func (a *app) showCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "show <uid>",
		Short: "Fetch and print one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				msg, err := svc.GetMessage(ctx, folder, uid)
				if err != nil {
					return err
				}
				if a.asJSON {
					return printJSON(cmd.OutOrStdout(), msg)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderMessage(msg))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "INBOX", "Folder holding the message")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a message and expunge it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.DeleteMessage(ctx, folder, uid)
				if err != nil {
					return err
				}
				return a.printResult(cmd, res)
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "INBOX", "Folder holding the message")
	return cmd
}

func (a *app) moveCmd() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "move <uid> <target>",
		Short: "Move a message to another folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, svc *service.Service) error {
				res, err := svc.MoveMessage(ctx, folder, uid, args[1])
				if err != nil {
					return err
				}
				return a.printResult(cmd, res)
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "INBOX", "Folder holding the message")
	return cmd
}

func (a *app) sendCmd() *cobra.Command {
	var opts model.MailOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the configured SMTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			smtpCfg, err := a.smtpConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			svc := a.newService()
			defer svc.Close(context.Background())

			if _, err := svc.ConfigureSMTP(ctx, smtpCfg); err != nil {
				return err
			}
			res, err := svc.SendMail(ctx, opts)
			if err != nil {
				return err
			}
			if a.asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(model.Result{
				Success: true,
				Message: "Sent " + res.MessageID,
			}))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.To, "to", nil, "Recipient (repeatable)")
	f.StringSliceVar(&opts.Cc, "cc", nil, "Cc recipient (repeatable)")
	f.StringSliceVar(&opts.Bcc, "bcc", nil, "Bcc recipient (repeatable)")
	f.StringVarP(&opts.Subject, "subject", "s", "", "Subject line")
	f.StringVar(&opts.Text, "text", "", "Plain-text body")
	f.StringVar(&opts.HTML, "html", "", "HTML body")
	f.StringVar(&opts.ReplyTo, "reply-to", "", "Reply-To address")
	f.StringVar(&opts.From, "from", "", "From address (defaults to the SMTP account)")
	return cmd
}

func (a *app) printResult(cmd *cobra.Command, res model.Result) error {
	if a.asJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))
	return nil
}
