package testutil

import (
	"errors"
	"io"
	"net"
	"strconv"
	gosync "sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/mailsync/internal/model"
)

// Delivery is one message accepted by SMTPServer.
type Delivery struct {
	From string
	To   []string
	Data []byte
	TLS  bool
}

// SMTPServer is an in-process SMTP server that records deliveries.
type SMTPServer struct {
	Addr string

	startTLS bool

	mu         gosync.Mutex
	deliveries []Delivery
}

// NewSMTPServer starts a plaintext SMTP server accepting DefaultUser /
// DefaultPass via AUTH PLAIN. It is shut down when the test completes.
func NewSMTPServer(t *testing.T) *SMTPServer {
	t.Helper()
	return startSMTPServer(t, false)
}

// NewSMTPServerStartTLS starts a server that offers STARTTLS with a
// self-signed certificate and only accepts AUTH after the upgrade.
func NewSMTPServerStartTLS(t *testing.T) *SMTPServer {
	t.Helper()
	return startSMTPServer(t, true)
}

func startSMTPServer(t *testing.T, startTLS bool) *SMTPServer {
	t.Helper()

	s := &SMTPServer{startTLS: startTLS}

	srv := smtp.NewServer(s)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = !startTLS
	if startTLS {
		srv.TLSConfig = SelfSignedTLS(t)
	}
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s.Addr = ln.Addr().String()

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return s
}

// Config returns an SmtpConfig pointing at the server. For a STARTTLS
// server it asks for the upgrade and skips certificate verification.
func (s *SMTPServer) Config() model.SmtpConfig {
	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	cfg := model.SmtpConfig{
		Host: host,
		Port: port,
		Auth: model.Auth{User: DefaultUser, Pass: DefaultPass},
	}
	if s.startTLS {
		verify := false
		cfg.StartTLS = true
		cfg.RejectUnauthorized = &verify
	}
	return cfg
}

// Deliveries returns every accepted message so far.
func (s *SMTPServer) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// NewSession implements smtp.Backend.
func (s *SMTPServer) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{srv: s, conn: c}, nil
}

type smtpSession struct {
	srv    *SMTPServer
	conn   *smtp.Conn
	authed bool
	cur    Delivery
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != DefaultUser || password != DefaultPass {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	_, isTLS := s.conn.TLSConnectionState()
	s.cur = Delivery{From: from, TLS: isTLS}
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.cur.To = append(s.cur.To, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.Data = data

	s.srv.mu.Lock()
	s.srv.deliveries = append(s.srv.deliveries, s.cur)
	s.srv.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset() {
	s.cur = Delivery{}
}

func (s *smtpSession) Logout() error {
	return nil
}
