package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
)

// accountForm holds the values edited by the login prompt.
type accountForm struct {
	host     string
	port     string
	user     string
	password string
	secure   bool
	startTLS bool
	from     string
}

func (a *app) loginCmd() *cobra.Command {
	var smtpOnly bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Prompt for account details, verify them and store the password in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if smtpOnly {
				return a.loginSMTP(cmd)
			}
			return a.loginIMAP(cmd)
		},
	}

	cmd.Flags().BoolVar(&smtpOnly, "smtp", false, "Configure the outbound SMTP server instead of IMAP")
	return cmd
}

func (a *app) loginIMAP(cmd *cobra.Command) error {
	f := accountForm{
		host:     a.cfg.IMAP.Host,
		port:     strconv.Itoa(a.cfg.IMAP.Port),
		user:     a.cfg.IMAP.Auth.User,
		secure:   a.cfg.IMAP.Secure,
		startTLS: a.cfg.IMAP.StartTLS,
	}
	if err := f.build("IMAP", false).Run(); err != nil {
		return err
	}

	port, _ := strconv.Atoi(strings.TrimSpace(f.port))
	imapCfg := a.cfg.IMAP
	imapCfg.Host = strings.TrimSpace(f.host)
	imapCfg.Port = port
	imapCfg.Secure = f.secure
	imapCfg.StartTLS = f.startTLS
	imapCfg.Auth = model.Auth{User: strings.TrimSpace(f.user), Pass: f.password}
	if err := imapCfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	session := mailbox.NewSession(mailbox.WithLogger(a.log))
	if _, err := session.Connect(ctx, imapCfg); err != nil {
		return err
	}
	session.Disconnect(ctx)

	if err := credential.Set(credential.Key(credential.IMAP, imapCfg.Auth.User), imapCfg.Auth.Pass); err != nil {
		return err
	}
	a.cfg.IMAP = imapCfg
	if err := model.SaveConfig(a.configPath, a.cfg); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderResult(model.Result{
		Success: true,
		Message: fmt.Sprintf("IMAP account %s saved", imapCfg.Auth.User),
	}))
	return nil
}

func (a *app) loginSMTP(cmd *cobra.Command) error {
	user := a.cfg.SMTP.Auth.User
	if user == "" {
		user = a.cfg.IMAP.Auth.User
	}
	f := accountForm{
		host:     a.cfg.SMTP.Host,
		port:     strconv.Itoa(a.cfg.SMTP.Port),
		user:     user,
		secure:   a.cfg.SMTP.Secure,
		startTLS: a.cfg.SMTP.StartTLS,
		from:     a.cfg.SMTP.From,
	}
	if err := f.build("SMTP", true).Run(); err != nil {
		return err
	}

	port, _ := strconv.Atoi(strings.TrimSpace(f.port))
	smtpCfg := a.cfg.SMTP
	smtpCfg.Host = strings.TrimSpace(f.host)
	smtpCfg.Port = port
	smtpCfg.Secure = f.secure
	smtpCfg.StartTLS = f.startTLS
	smtpCfg.From = strings.TrimSpace(f.from)
	smtpCfg.Auth = model.Auth{User: strings.TrimSpace(f.user), Pass: f.password}
	if err := smtpCfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	if _, err := outbound.NewSender(a.log).Configure(ctx, smtpCfg); err != nil {
		return err
	}

	if err := credential.Set(credential.Key(credential.SMTP, smtpCfg.Auth.User), smtpCfg.Auth.Pass); err != nil {
		return err
	}
	a.cfg.SMTP = smtpCfg
	if err := model.SaveConfig(a.configPath, a.cfg); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderResult(model.Result{
		Success: true,
		Message: fmt.Sprintf("SMTP server %s saved", smtpCfg.Addr()),
	}))
	return nil
}

func (f *accountForm) build(kind string, withFrom bool) *huh.Form {
	fields := []huh.Field{
		huh.NewInput().
			Title(kind + " host").
			Placeholder(strings.ToLower(kind) + ".example.com").
			Value(&f.host).
			Validate(validateRequired("Host")),
		huh.NewInput().
			Title("Port").
			Value(&f.port).
			Validate(validatePort),
		huh.NewConfirm().
			Title("Use implicit TLS?").
			Description("Usually yes for ports 993 and 465").
			Value(&f.secure),
		huh.NewConfirm().
			Title("Upgrade with STARTTLS?").
			Description("Only used without implicit TLS, usually yes for port 587").
			Value(&f.startTLS),
		huh.NewInput().
			Title("Username").
			Placeholder("you@example.com").
			Value(&f.user).
			Validate(validateRequired("Username")),
		huh.NewInput().
			Title("Password").
			Description("Stored in the system keyring, never in the config file").
			EchoMode(huh.EchoModePassword).
			Value(&f.password).
			Validate(validateRequired("Password")),
	}
	if withFrom {
		fields = append(fields, huh.NewInput().
			Title("From address").
			Description("Optional, defaults to the username").
			Placeholder("Your Name <you@example.com>").
			Value(&f.from))
	}

	return huh.NewForm(huh.NewGroup(fields...))
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
