package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/service"
	appsync "github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/theme"
)

// Set via -ldflags at build time.
var version = "dev"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	pretty     bool
	asJSON     bool
	timeout    time.Duration

	cfg *model.AppConfig
	log zerolog.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "mailsync",
		Short:         "IMAP mailbox sync and SMTP bridge for the desktop mail client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", model.DefaultConfigPath(), "Path to the config file")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.BoolVar(&a.pretty, "pretty", false, "Human-readable log output")
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")
	flags.DurationVar(&a.timeout, "timeout", 60*time.Second, "Timeout for one-shot commands")

	rootCmd.AddCommand(
		a.serveCmd(),
		a.foldersCmd(),
		a.statsCmd(),
		a.listCmd(),
		a.showCmd(),
		a.deleteCmd(),
		a.moveCmd(),
		a.sendCmd(),
		a.loginCmd(),
		a.watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, theme.ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// init loads .env, the config file and the logger.
func (a *app) init(cmd *cobra.Command) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := model.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.log = logging.New(level, a.pretty || cfg.Log.Pretty)
	return nil
}

func (a *app) newService() *service.Service {
	return service.New(a.log, nil, service.Options{
		Poll: appsync.Options{
			Interval:     a.cfg.Poll.Interval(),
			FetchTimeout: a.cfg.Poll.FetchTimeout(),
			Window:       a.cfg.Poll.Window,
		},
		ProtocolTrace: a.cfg.Log.ProtocolTrace,
		Defaults:      a.cfg,
	})
}

// imapConfig returns the configured IMAP account with its password filled
// in from the environment or the keyring.
func (a *app) imapConfig() (model.ImapConfig, error) {
	cfg := a.cfg.IMAP
	if !a.cfg.HasIMAP() {
		return cfg, errors.New("no IMAP account configured, run `mailsync login` first")
	}
	pass, err := credential.Password(credential.IMAP, cfg.Auth.User, cfg.Auth.Pass)
	if err != nil {
		return cfg, err
	}
	cfg.Auth.Pass = pass
	return cfg, nil
}

// smtpConfig is imapConfig for the outbound server.
func (a *app) smtpConfig() (model.SmtpConfig, error) {
	cfg := a.cfg.SMTP
	if !a.cfg.HasSMTP() {
		return cfg, errors.New("no SMTP server configured, run `mailsync login --smtp` first")
	}
	pass, err := credential.Password(credential.SMTP, cfg.Auth.User, cfg.Auth.Pass)
	if err != nil {
		return cfg, err
	}
	cfg.Auth.Pass = pass
	return cfg, nil
}

// withSession connects, runs fn and disconnects, all bounded by the command
// timeout.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	imapCfg, err := a.imapConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	svc := a.newService()
	defer svc.Close(context.Background())

	if _, err := svc.Connect(ctx, imapCfg); err != nil {
		return err
	}
	return fn(ctx, svc)
}
