package testutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/nhle/mailsync/internal/model"
)

const (
	DefaultUser = "user@example.com"
	DefaultPass = "password"
)

// IMAPServer is an in-memory IMAP server listening on a loopback port.
type IMAPServer struct {
	Addr string

	srv *imapserver.Server
}

// NewIMAPServer starts an in-memory IMAP server with INBOX plus any extra
// mailboxes. It is shut down when the test completes.
func NewIMAPServer(t *testing.T, mailboxes ...string) *IMAPServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(DefaultUser, DefaultPass)
	for _, name := range append([]string{"INBOX"}, mailboxes...) {
		if err := user.Create(name, nil); err != nil {
			t.Fatalf("creating mailbox %s: %v", name, err)
		}
	}
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()

	s := &IMAPServer{Addr: ln.Addr().String(), srv: srv}
	t.Cleanup(func() { _ = srv.Close() })

	return s
}

// Config returns a plaintext ImapConfig pointing at the server.
func (s *IMAPServer) Config() model.ImapConfig {
	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	return model.ImapConfig{
		Host: host,
		Port: port,
		Auth: model.Auth{User: DefaultUser, Pass: DefaultPass},
	}
}

// Dial opens an independent authenticated client, closed on cleanup.
func (s *IMAPServer) Dial(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.DialInsecure(s.Addr, nil)
	if err != nil {
		t.Fatalf("dialing test server: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Login(DefaultUser, DefaultPass).Wait(); err != nil {
		t.Fatalf("logging in: %v", err)
	}
	return c
}

// Append stores raw in mailbox through a separate connection.
func (s *IMAPServer) Append(t *testing.T, mailbox, raw string) {
	t.Helper()

	c := s.Dial(t)
	defer func() { _ = c.Logout().Wait() }()

	cmd := c.Append(mailbox, int64(len(raw)), nil)
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatalf("closing append: %v", err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatalf("appending to %s: %v", mailbox, err)
	}
}

// Count returns the number of messages in mailbox.
func (s *IMAPServer) Count(t *testing.T, mailbox string) uint32 {
	t.Helper()

	c := s.Dial(t)
	defer func() { _ = c.Logout().Wait() }()

	data, err := c.Status(mailbox, &imap.StatusOptions{NumMessages: true}).Wait()
	if err != nil {
		t.Fatalf("status %s: %v", mailbox, err)
	}
	return *data.NumMessages
}

// Seed appends n simple messages numbered 1..n to mailbox.
func (s *IMAPServer) Seed(t *testing.T, mailbox string, n int) {
	t.Helper()

	for i := 1; i <= n; i++ {
		s.Append(t, mailbox, Message(
			"Sender <sender@example.com>",
			DefaultUser,
			fmt.Sprintf("Message %d", i),
			fmt.Sprintf("Body %d", i),
		))
	}
}

// Message builds a minimal RFC 5322 text/plain message.
func Message(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if subject != "" {
		fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	}
	fmt.Fprintf(&b, "Date: %s\r\n", time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC).Format(time.RFC1123Z))
	b.WriteString("Message-ID: <" + strings.ReplaceAll(strings.ToLower(subject), " ", "-") + "@example.com>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return b.String()
}
