package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/ui/watch"
)

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Connect, poll INBOX and show new mail as it arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			imapCfg, err := a.imapConfig()
			if err != nil {
				return err
			}

			// The alt screen owns the terminal while the view runs.
			a.log = zerolog.Nop()

			svc := a.newService()
			svc.Start()
			defer svc.Close(cmd.Context())

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			_, err = svc.Connect(ctx, imapCfg)
			cancel()
			if err != nil {
				return err
			}

			p := tea.NewProgram(
				watch.New(svc, keys.DefaultKeyMap()),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			_, err = p.Run()
			return err
		},
	}
}
