// Package ipc exposes the mail service to the desktop UI over a local
// HTTP/JSON bridge.
package ipc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/service"
	"github.com/nhle/mailsync/internal/store"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultHeartbeat      = 15 * time.Second
	defaultListLimit      = 20
)

// Backend is the set of operations the bridge exposes. *service.Service
// implements it.
type Backend interface {
	Connect(ctx context.Context, cfg model.ImapConfig) (model.Result, error)
	Disconnect(ctx context.Context) model.Result
	IsConnected() bool
	SMTPConfigured() bool

	ListFolders(ctx context.Context) ([]string, error)
	FolderStats(ctx context.Context) (map[folder.Canonical]uint32, error)
	ListMessages(ctx context.Context, folder string, opts model.ListOptions) (*model.ListResult, error)
	GetMessage(ctx context.Context, folder string, uid uint32) (*model.MessageFull, error)
	DeleteMessage(ctx context.Context, folder string, uid uint32) (model.Result, error)
	MoveMessage(ctx context.Context, folder string, uid uint32, target string) (model.Result, error)

	ConfigureSMTP(ctx context.Context, cfg model.SmtpConfig) (model.Result, error)
	SendMail(ctx context.Context, opts model.MailOptions) (model.SendResult, error)

	Subscribe() (<-chan model.NewMailEvent, func())
	TriggerPoll()

	Notifications(ctx context.Context, filter store.NotificationFilter) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	Settings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, settings model.Settings) error
}

var _ Backend = (*service.Service)(nil)

// Server is the bridge HTTP server.
type Server struct {
	app       *fiber.App
	backend   Backend
	log       zerolog.Logger
	token     string
	origins   []string
	timeout   time.Duration
	heartbeat time.Duration

	// closing ends open event streams when Shutdown begins.
	closing   chan struct{}
	closeOnce gosync.Once
}

// NewServer builds the bridge and registers every route.
func NewServer(backend Backend, cfg model.BridgeConfig, log zerolog.Logger) *Server {
	s := &Server{
		backend:   backend,
		log:       log.With().Str("component", "bridge").Logger(),
		token:     cfg.Token,
		origins:   cfg.AllowedOrigins,
		timeout:   cfg.RequestTimeout(),
		heartbeat: defaultHeartbeat,
		closing:   make(chan struct{}),
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "mailsync",
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New())
	s.app.Use(s.logRequests)
	s.app.Use(s.checkOrigin)
	s.app.Use(s.authorize)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/status", s.status)

	imap := s.app.Group("/imap")
	imap.Post("/connect", s.connect)
	imap.Post("/disconnect", s.disconnect)
	imap.Get("/folders", s.listFolders)
	imap.Get("/folders/stats", s.folderStats)
	imap.Get("/messages", s.listMessages)
	imap.Get("/messages/:uid", s.getMessage)
	imap.Delete("/messages/:uid", s.deleteMessage)
	imap.Post("/messages/:uid/move", s.moveMessage)
	imap.Post("/poll", s.triggerPoll)

	mail := s.app.Group("/mail")
	mail.Post("/smtp", s.configureSMTP)
	mail.Post("/send", s.sendMail)

	s.app.Get("/events/new-mail", s.newMailEvents)

	s.app.Get("/notifications", s.listNotifications)
	s.app.Post("/notifications/read", s.markAllRead)
	s.app.Post("/notifications/:id/read", s.markRead)

	s.app.Get("/settings", s.getSettings)
	s.app.Put("/settings", s.saveSettings)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.log.Info().Str("addr", addr).Msg("Bridge listening")
	return s.app.Listen(addr)
}

// Shutdown ends open event streams, stops accepting requests and waits for
// in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.app.ShutdownWithContext(ctx)
}

// requestContext bounds a handler's work by the configured timeout.
func (s *Server) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.timeout)
}

func (s *Server) authorize(c *fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}

	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing bearer token")
	}
	return c.Next()
}

// checkOrigin rejects browser requests from origins that are not
// configured. Non-browser clients send no Origin header.
func (s *Server) checkOrigin(c *fiber.Ctx) error {
	origin := c.Get(fiber.HeaderOrigin)
	if origin == "" || slices.Contains(s.origins, origin) {
		return c.Next()
	}
	return fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("origin %q is not allowed", origin))
}

// logRequests renders handler errors itself so the logged status is the
// one sent to the client.
func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	s.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Err(err).
		Msg("Request")

	return nil
}
