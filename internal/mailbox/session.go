package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	gosync "sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/model"
)

const (
	dialTimeout   = 20 * time.Second
	logoutTimeout = 2 * time.Second
)

const (
	msgConnected        = "Connected to IMAP server"
	msgAlreadyConnected = "Already connected to IMAP server"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Session owns the single IMAP connection of the process. All readers and
// mutators borrow the connection through it.
type Session struct {
	log   zerolog.Logger
	trace io.Writer

	connects singleflight.Group

	mu     gosync.RWMutex
	state  State
	client *imapclient.Client
	cfg    model.ImapConfig
	gen    uint64

	// exchange serializes select-and-command sequences on the shared
	// connection, which has exactly one selected mailbox at a time.
	exchange chan struct{}
	locks    *lockTable
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l.With().Str("component", "imap").Logger()
	}
}

// WithProtocolTrace mirrors raw IMAP traffic into w.
func WithProtocolTrace(w io.Writer) Option {
	return func(s *Session) {
		s.trace = w
	}
}

// NewSession creates a disconnected Session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		log:      zerolog.Nop(),
		exchange: make(chan struct{}, 1),
		locks:    newLockTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a live, authenticated connection exists.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Generation increments on every successful connect. Callers caching data
// derived from the server (such as the folder list) compare it to detect a
// reconnect.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Connect dials, authenticates and validates the account by opening INBOX
// read-only. Calling Connect while connected is a no-op success. Concurrent
// callers share one in-flight attempt.
func (s *Session) Connect(ctx context.Context, cfg model.ImapConfig) (model.Result, error) {
	if s.IsConnected() {
		return model.Result{Success: true, Message: msgAlreadyConnected}, nil
	}

	v, err, _ := s.connects.Do("connect", func() (any, error) {
		return s.connect(ctx, cfg)
	})
	if err != nil {
		return model.Result{}, err
	}
	return v.(model.Result), nil
}

func (s *Session) connect(ctx context.Context, cfg model.ImapConfig) (model.Result, error) {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return model.Result{Success: true, Message: msgAlreadyConnected}, nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	log := s.log.With().
		Str("addr", cfg.Addr()).
		Str("user", logging.MaskEmail(cfg.Auth.User)).
		Logger()
	log.Info().Msg("Connecting to IMAP server")

	c, err := s.dial(ctx, cfg)
	if err == nil {
		err = s.authenticate(ctx, c, cfg)
		if err != nil {
			_ = c.Close()
		}
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()

		log.Warn().Err(err).Msg("IMAP connect failed")
		return model.Result{}, &ConnectionError{Addr: cfg.Addr(), Err: err}
	}

	s.mu.Lock()
	s.client = c
	s.cfg = cfg
	s.state = StateConnected
	s.gen++
	s.mu.Unlock()

	go s.watch(c)

	log.Info().Msg("IMAP connected")
	return model.Result{Success: true, Message: msgConnected}, nil
}

// dial opens the transport chosen by cfg: implicit TLS, STARTTLS or
// plaintext.
func (s *Session) dial(ctx context.Context, cfg model.ImapConfig) (*imapclient.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.VerifyTLS(),
	}
	opts := &imapclient.Options{
		TLSConfig:   tlsConfig,
		DebugWriter: s.trace,
	}

	netDialer := &net.Dialer{Timeout: dialTimeout}

	if cfg.Secure {
		d := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, opts), nil
	}

	conn, err := netDialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, err
	}

	if cfg.StartTLS {
		c, err := imapclient.NewStartTLS(conn, opts)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return c, nil
	}

	return imapclient.New(conn, opts), nil
}

func (s *Session) authenticate(ctx context.Context, c *imapclient.Client, cfg model.ImapConfig) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Login(cfg.Auth.User, cfg.Auth.Pass).Wait(); err != nil {
		return ctxErr(ctx, err)
	}
	if _, err := c.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return ctxErr(ctx, fmt.Errorf("opening INBOX: %w", err))
	}
	return nil
}

// watch resets the session when the server or the network drops c.
func (s *Session) watch(c *imapclient.Client) {
	<-c.Closed()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != c {
		return
	}
	s.client = nil
	s.state = StateDisconnected
	s.log.Warn().Msg("IMAP connection closed")
}

// Disconnect logs out and closes the connection. It never fails and always
// leaves the session disconnected, even if LOGOUT hangs.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Logout().Wait()
	}()

	timer := time.NewTimer(logoutTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.log.Debug().Msg("IMAP logout timed out")
	case <-ctx.Done():
	}

	_ = c.Close()
	s.log.Info().Msg("IMAP disconnected")
}

func (s *Session) current() (*imapclient.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// withClient runs fn with exclusive use of the connection. If ctx ends
// while fn is running the connection is torn down to unblock it.
func (s *Session) withClient(ctx context.Context, fn func(c *imapclient.Client) error) error {
	c, err := s.current()
	if err != nil {
		return err
	}

	select {
	case s.exchange <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.exchange }()

	if err := ctx.Err(); err != nil {
		return err
	}

	// The client may have been replaced while we waited.
	if c, err = s.current(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		s.log.Warn().Msg("IMAP operation deadline exceeded, closing connection")
		_ = c.Close()
	})
	defer stop()

	return ctxErr(ctx, fn(c))
}

// withMailbox holds the folder lock, selects folder and runs fn. The lock
// is released on every return path.
func (s *Session) withMailbox(
	ctx context.Context,
	folder string,
	readOnly bool,
	fn func(c *imapclient.Client, data *imap.SelectData) error,
) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}

	release, err := s.locks.acquire(ctx, folder)
	if err != nil {
		return err
	}
	defer release()

	return s.withClient(ctx, func(c *imapclient.Client) error {
		data, err := c.Select(folder, &imap.SelectOptions{ReadOnly: readOnly}).Wait()
		if err != nil {
			return folderError(folder, fmt.Errorf("selecting %s: %w", folder, err))
		}
		return fn(c, data)
	})
}

// ctxErr prefers the context error when ctx ended, since the protocol
// error is then only a symptom of the forced close.
func ctxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return errors.Join(ctx.Err(), err)
	}
	return err
}
