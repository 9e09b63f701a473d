// Package outbound sends mail over SMTP independently of the IMAP session.
package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	gosync "sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/model"
)

// ErrNotConfigured is returned by Send before a successful Configure.
var ErrNotConfigured = errors.New("SMTP not configured")

const dialTimeout = 20 * time.Second

// Sender holds the last SMTP configuration that passed verification.
type Sender struct {
	log zerolog.Logger
	now func() time.Time

	mu  gosync.RWMutex
	cfg *model.SmtpConfig
}

// NewSender creates an unconfigured Sender.
func NewSender(log zerolog.Logger) *Sender {
	return &Sender{
		log: log.With().Str("component", "smtp").Logger(),
		now: time.Now,
	}
}

// Configured reports whether Send can be used.
func (s *Sender) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg != nil
}

// Configure verifies cfg by connecting and authenticating, then makes it
// the active configuration. A failed verification keeps the previous
// configuration in place.
func (s *Sender) Configure(ctx context.Context, cfg model.SmtpConfig) (model.Result, error) {
	log := s.log.With().
		Str("addr", cfg.Addr()).
		Str("user", logging.MaskEmail(cfg.Auth.User)).
		Logger()

	c, err := open(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("SMTP verification failed")
		return model.Result{}, fmt.Errorf("verifying SMTP connection: %w", err)
	}
	_ = c.Quit()

	s.mu.Lock()
	s.cfg = &cfg
	s.mu.Unlock()

	log.Info().Msg("SMTP configured")
	return model.Result{Success: true, Message: "SMTP configured successfully"}, nil
}

// Send composes opts into a MIME message and submits it. Bcc recipients
// receive the message but never appear in its headers.
func (s *Sender) Send(ctx context.Context, opts model.MailOptions) (model.SendResult, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	if cfg == nil {
		return model.SendResult{}, ErrNotConfigured
	}

	from := opts.From
	if from == "" {
		from = cfg.Sender()
	}

	raw, messageID, err := compose(opts, from, s.now())
	if err != nil {
		return model.SendResult{}, err
	}

	sender, err := envelopeAddress(from)
	if err != nil {
		return model.SendResult{}, err
	}
	rcpts := make([]string, 0, len(opts.Recipients()))
	for _, r := range opts.Recipients() {
		addr, err := envelopeAddress(r)
		if err != nil {
			return model.SendResult{}, err
		}
		rcpts = append(rcpts, addr)
	}

	c, err := open(ctx, *cfg)
	if err != nil {
		return model.SendResult{}, fmt.Errorf("connecting to SMTP server: %w", err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.SendMail(sender, rcpts, bytes.NewReader(raw)); err != nil {
		if ctx.Err() != nil {
			return model.SendResult{}, errors.Join(ctx.Err(), err)
		}
		return model.SendResult{}, fmt.Errorf("sending mail: %w", err)
	}
	_ = c.Quit()

	s.log.Info().
		Str("message_id", messageID).
		Int("recipients", len(rcpts)).
		Msg("Mail sent")

	return model.SendResult{MessageID: messageID}, nil
}

// open dials cfg, upgrades with STARTTLS when cfg asks for it and
// authenticates.
func open(ctx context.Context, cfg model.SmtpConfig) (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.VerifyTLS(),
	}
	netDialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if cfg.Secure {
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", cfg.Addr())
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", cfg.Addr())
	}
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := newClient(conn, cfg, tlsConfig)
	if err == nil {
		err = authenticate(c, cfg)
		if err != nil {
			_ = c.Close()
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(ctx.Err(), err)
		}
		return nil, err
	}
	return c, nil
}

func newClient(conn net.Conn, cfg model.SmtpConfig, tlsConfig *tls.Config) (*smtp.Client, error) {
	if cfg.Secure || !cfg.StartTLS {
		return smtp.NewClient(conn), nil
	}
	// NewClientStartTLS closes conn on failure.
	c, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("starttls: %w", err)
	}
	return c, nil
}

func authenticate(c *smtp.Client, cfg model.SmtpConfig) error {
	if cfg.Auth.User == "" {
		return c.Noop()
	}
	if err := c.Auth(sasl.NewPlainClient("", cfg.Auth.User, cfg.Auth.Pass)); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	return nil
}

// compose renders opts as an RFC 5322 message and returns it along with
// its Message-ID in angle brackets.
func compose(opts model.MailOptions, from string, now time.Time) ([]byte, string, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(opts.Subject)

	fromAddr, err := parseAddress(from)
	if err != nil {
		return nil, "", fmt.Errorf("invalid from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	for _, field := range []struct {
		key  string
		list []string
	}{
		{"To", opts.To},
		{"Cc", opts.Cc},
	} {
		if len(field.list) == 0 {
			continue
		}
		addrs, err := parseAddresses(field.list)
		if err != nil {
			return nil, "", fmt.Errorf("invalid %s address: %w", field.key, err)
		}
		h.SetAddressList(field.key, addrs)
	}

	if opts.ReplyTo != "" {
		addr, err := parseAddress(opts.ReplyTo)
		if err != nil {
			return nil, "", fmt.Errorf("invalid reply-to address: %w", err)
		}
		h.SetAddressList("Reply-To", []*mail.Address{addr})
	}

	if err := h.GenerateMessageID(); err != nil {
		return nil, "", fmt.Errorf("generating message id: %w", err)
	}
	id, err := h.MessageID()
	if err != nil {
		return nil, "", fmt.Errorf("reading message id: %w", err)
	}

	var buf bytes.Buffer
	if err := writeBody(&buf, &h, opts.Text, opts.HTML); err != nil {
		return nil, "", fmt.Errorf("composing message: %w", err)
	}

	return buf.Bytes(), "<" + id + ">", nil
}

func writeBody(buf *bytes.Buffer, h *mail.Header, text, html string) error {
	charset := map[string]string{"charset": "utf-8"}

	if text == "" || html == "" {
		contentType, body := "text/plain", text
		if html != "" {
			contentType, body = "text/html", html
		}
		h.SetContentType(contentType, charset)

		w, err := mail.CreateSingleInlineWriter(buf, *h)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(body)); err != nil {
			return err
		}
		return w.Close()
	}

	mw, err := mail.CreateWriter(buf, *h)
	if err != nil {
		return err
	}
	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain", text},
		{"text/html", html},
	} {
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, charset)
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return err
		}
		if _, err := pw.Write([]byte(part.body)); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}

	if err := iw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

// parseAddress accepts "Name <addr>" or a bare address. Account usernames
// that are not valid addresses are used as is.
func parseAddress(s string) (*mail.Address, error) {
	addr, err := mail.ParseAddress(s)
	if err == nil {
		return addr, nil
	}
	if s == "" {
		return nil, errors.New("empty address")
	}
	return &mail.Address{Address: s}, nil
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func envelopeAddress(s string) (string, error) {
	addr, err := parseAddress(s)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
