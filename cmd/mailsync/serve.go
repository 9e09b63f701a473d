package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/ipc"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/service"
	"github.com/nhle/mailsync/internal/store"
	appsync "github.com/nhle/mailsync/internal/sync"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync service and the local bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Bridge.Addr
			}
			return a.serve(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bridge listen address (overrides bridge.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.ensureBridgeToken(); err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := service.New(a.log, st, service.Options{
		Poll: appsync.Options{
			Interval:     a.cfg.Poll.Interval(),
			FetchTimeout: a.cfg.Poll.FetchTimeout(),
			Window:       a.cfg.Poll.Window,
		},
		ProtocolTrace: a.cfg.Log.ProtocolTrace,
		Defaults:      a.cfg,
	})
	svc.Start()

	bridge := ipc.NewServer(svc, a.cfg.Bridge, a.log)
	serveErr := make(chan error, 1)
	go func() { serveErr <- bridge.Listen(addr) }()

	a.log.Info().
		Str("addr", addr).
		Dur("poll_interval", a.cfg.Poll.Interval()).
		Msg("Service started")

	// Connect in the background; the bridge is usable before login finishes.
	go a.autoLogin(ctx, svc)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := bridge.Shutdown(shutdownCtx); serr != nil {
		a.log.Warn().Err(serr).Msg("Bridge shutdown")
	}
	svc.Close(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ensureBridgeToken generates a bearer token on first serve and saves it
// to the config file, where the desktop client reads it.
func (a *app) ensureBridgeToken() error {
	if a.cfg.Bridge.Token != "" {
		return nil
	}
	a.cfg.Bridge.Token = uuid.NewString()
	if err := model.SaveConfig(a.configPath, a.cfg); err != nil {
		return fmt.Errorf("saving bridge token: %w", err)
	}
	a.log.Info().Str("config", a.configPath).Msg("Generated bridge token")
	return nil
}

func (a *app) autoLogin(ctx context.Context, svc *service.Service) {
	if a.cfg.HasSMTP() {
		if smtpCfg, err := a.smtpConfig(); err == nil && smtpCfg.Auth.Pass != "" {
			if _, err := svc.ConfigureSMTP(ctx, smtpCfg); err != nil {
				a.log.Warn().Err(err).Msg("SMTP not configured at startup")
			}
		}
	}

	if !a.cfg.Login.Auto || !a.cfg.HasIMAP() {
		a.log.Info().Msg("Auto-login disabled, waiting for a connect request")
		return
	}

	imapCfg, err := a.imapConfig()
	if err != nil {
		a.log.Error().Err(err).Msg("Reading IMAP credentials")
		return
	}

	// Errors are logged by AutoLogin.
	_ = svc.AutoLogin(ctx, imapCfg, a.cfg.Login)
}
