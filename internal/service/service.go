// Package service wires the IMAP session, reader, mutation executor, SMTP
// sender and new-mail poller into the single object the bridge and CLI talk
// to.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
	"github.com/nhle/mailsync/internal/store"
	appsync "github.com/nhle/mailsync/internal/sync"
)

const (
	// notificationKeep caps the stored notification history.
	notificationKeep = 500

	recordTimeout = 5 * time.Second
	subscriberBuf = 8
)

// Options configures a Service.
type Options struct {
	Poll appsync.Options

	// ProtocolTrace logs raw IMAP traffic at trace level.
	ProtocolTrace bool

	// Defaults seeds Settings until the UI saves its own.
	Defaults *model.AppConfig
}

// Service owns every mail component. A single instance lives for the
// duration of the process.
type Service struct {
	log      zerolog.Logger
	store    store.Store
	defaults *model.AppConfig

	session  *mailbox.Session
	reader   *mailbox.Reader
	executor *mailbox.Executor
	sender   *outbound.Sender
	poller   *appsync.Poller

	mu        gosync.Mutex
	account   string
	folders   []string
	folderGen uint64
	subs      map[int]chan model.NewMailEvent
	nextSub   int
	started   bool
	stopCh    chan struct{}
	pumpDone  chan struct{}
}

// New builds a Service. st may be nil, in which case notifications and
// settings are not persisted.
func New(log zerolog.Logger, st store.Store, opts Options) *Service {
	sessionOpts := []mailbox.Option{mailbox.WithLogger(log)}
	if opts.ProtocolTrace {
		sessionOpts = append(sessionOpts, mailbox.WithProtocolTrace(logging.NewTraceWriter(log)))
	}
	session := mailbox.NewSession(sessionOpts...)
	reader := mailbox.NewReader(session, log)

	return &Service{
		log:      log.With().Str("component", "service").Logger(),
		store:    st,
		defaults: opts.Defaults,
		session:  session,
		reader:   reader,
		executor: mailbox.NewExecutor(session, log),
		sender:   outbound.NewSender(log),
		poller:   appsync.New(reader, log, opts.Poll),
		subs:     make(map[int]chan model.NewMailEvent),
	}
}

// Start launches the poller and the event pump. Ticks are skipped until a
// session exists.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.pumpDone = make(chan struct{})

	go s.pump(s.stopCh, s.pumpDone)
	s.poller.Start()
}

// Close stops polling, closes every subscription and disconnects.
func (s *Service) Close(ctx context.Context) {
	s.poller.Stop()

	s.mu.Lock()
	if s.started {
		s.started = false
		close(s.stopCh)
		done := s.pumpDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.session.Disconnect(ctx)
}

// === IMAP session ===

// Connect opens the IMAP session. A second call while connected succeeds
// without dialing.
func (s *Service) Connect(ctx context.Context, cfg model.ImapConfig) (model.Result, error) {
	gen := s.session.Generation()
	res, err := s.session.Connect(ctx, cfg)
	if err != nil {
		return res, err
	}
	if s.session.Generation() != gen {
		s.switchAccount(cfg)
		s.poller.Trigger()
	}
	return res, nil
}

// switchAccount forgets the new-mail baseline when a session opens for a
// different account than the previous one.
func (s *Service) switchAccount(cfg model.ImapConfig) {
	key := strings.ToLower(cfg.Auth.User) + "@" + strings.ToLower(cfg.Addr())

	s.mu.Lock()
	changed := s.account != "" && s.account != key
	s.account = key
	s.mu.Unlock()

	if changed {
		s.log.Info().Msg("IMAP account changed, resetting new-mail baseline")
		s.poller.ResetBaseline()
	}
}

// Disconnect closes the IMAP session. It never fails.
func (s *Service) Disconnect(ctx context.Context) model.Result {
	s.session.Disconnect(ctx)
	return model.Result{Success: true, Message: "Disconnected from IMAP server"}
}

// IsConnected reports whether an IMAP session is live.
func (s *Service) IsConnected() bool {
	return s.session.IsConnected()
}

// SyncStatus returns the poller's last known state.
func (s *Service) SyncStatus() appsync.SyncStatus {
	return s.poller.Status()
}

// === Mailbox ===

// ListFolders returns every mailbox path and refreshes the folder cache.
func (s *Service) ListFolders(ctx context.Context) ([]string, error) {
	gen := s.session.Generation()
	folders, err := s.reader.ListFolders(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.folders = folders
	s.folderGen = gen
	s.mu.Unlock()

	return folders, nil
}

// FolderStats returns the message count of every canonical folder.
func (s *Service) FolderStats(ctx context.Context) (map[folder.Canonical]uint32, error) {
	folders, err := s.providerFolders(ctx)
	if err != nil {
		return nil, err
	}
	return s.reader.FolderStats(ctx, folders)
}

// ListMessages lists one page of name, which may be a provider path or a
// canonical folder name.
func (s *Service) ListMessages(ctx context.Context, name string, opts model.ListOptions) (*model.ListResult, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.reader.ListMessages(ctx, path, opts)
}

// GetMessage fetches and parses one message.
func (s *Service) GetMessage(ctx context.Context, name string, uid uint32) (*model.MessageFull, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.reader.GetMessage(ctx, path, uid)
}

// DeleteMessage flags uid as deleted and expunges it.
func (s *Service) DeleteMessage(ctx context.Context, name string, uid uint32) (model.Result, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return model.Result{}, err
	}
	if err := s.executor.DeleteMessage(ctx, path, uid); err != nil {
		return model.Result{}, err
	}
	return model.Result{Success: true, Message: "Message deleted"}, nil
}

// MoveMessage moves uid from name to target. Both may be canonical names.
func (s *Service) MoveMessage(ctx context.Context, name string, uid uint32, target string) (model.Result, error) {
	path, err := s.resolve(ctx, name)
	if err != nil {
		return model.Result{}, err
	}
	targetPath, err := s.resolve(ctx, target)
	if err != nil {
		return model.Result{}, err
	}
	if err := s.executor.MoveMessage(ctx, path, uid, targetPath); err != nil {
		return model.Result{}, err
	}
	return model.Result{Success: true, Message: fmt.Sprintf("Message moved to %s", targetPath)}, nil
}

// resolve maps a canonical folder name onto the provider's path. Anything
// else is taken as a provider path.
func (s *Service) resolve(ctx context.Context, name string) (string, error) {
	canonical, ok := folder.ParseCanonical(name)
	if !ok {
		return name, nil
	}
	if canonical == folder.Inbox {
		return string(folder.Inbox), nil
	}

	folders, err := s.providerFolders(ctx)
	if err != nil {
		return "", err
	}
	return folder.Resolve(canonical, folders), nil
}

// providerFolders returns the cached folder list, refreshing it when the
// session has been replaced since it was fetched.
func (s *Service) providerFolders(ctx context.Context) ([]string, error) {
	gen := s.session.Generation()

	s.mu.Lock()
	if s.folders != nil && s.folderGen == gen {
		folders := s.folders
		s.mu.Unlock()
		return folders, nil
	}
	s.mu.Unlock()

	return s.ListFolders(ctx)
}

// === SMTP ===

// ConfigureSMTP verifies cfg and makes it the active transport.
func (s *Service) ConfigureSMTP(ctx context.Context, cfg model.SmtpConfig) (model.Result, error) {
	return s.sender.Configure(ctx, cfg)
}

// SendMail submits a message through the configured transport.
func (s *Service) SendMail(ctx context.Context, opts model.MailOptions) (model.SendResult, error) {
	return s.sender.Send(ctx, opts)
}

// SMTPConfigured reports whether SendMail can be used.
func (s *Service) SMTPConfigured() bool {
	return s.sender.Configured()
}

// === New-mail events ===

// Subscribe returns a channel of new-mail events and a function that ends
// the subscription. Slow subscribers miss events rather than blocking
// others.
func (s *Service) Subscribe() (<-chan model.NewMailEvent, func()) {
	ch := make(chan model.NewMailEvent, subscriberBuf)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once gosync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// TriggerPoll requests an immediate new-mail check.
func (s *Service) TriggerPoll() {
	s.poller.Trigger()
}

func (s *Service) pump(stopCh <-chan struct{}, done chan struct{}) {
	defer close(done)

	events := s.poller.Events()
	for {
		select {
		case <-stopCh:
			return
		case ev := <-events:
			s.record(ev)
			s.broadcast(ev)
		}
	}
}

func (s *Service) record(ev model.NewMailEvent) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	_, err := s.store.CreateNotification(ctx, model.Notification{
		Folder:        string(folder.Inbox),
		NewEmailCount: ev.NewEmailCount,
		TotalEmails:   ev.TotalEmails,
		CreatedAt:     ev.Timestamp,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to store notification")
		return
	}
	if _, err := s.store.PruneNotifications(ctx, notificationKeep); err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune notifications")
	}
}

func (s *Service) broadcast(ev model.NewMailEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Debug().Int("subscriber", id).Msg("Subscriber full, dropping event")
		}
	}
}

// === Notifications & settings ===

// ErrNoStore is returned by persistence calls on a Service built without a
// store.
var ErrNoStore = errors.New("no store configured")

// Notifications returns stored notifications matching filter.
func (s *Service) Notifications(ctx context.Context, filter store.NotificationFilter) ([]model.Notification, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.GetNotifications(ctx, filter)
}

// MarkNotificationRead marks one notification, or every notification when
// id is empty, as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	if id == "" {
		return s.store.MarkAllNotificationsRead(ctx)
	}
	return s.store.MarkNotificationRead(ctx, id)
}

// Settings returns the saved UI settings, falling back to the non-secret
// parts of the loaded configuration.
func (s *Service) Settings(ctx context.Context) (*model.Settings, error) {
	if s.store != nil {
		settings, err := s.store.GetSettings(ctx)
		if err == nil {
			return settings, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return settingsFromConfig(s.defaults), nil
}

// SaveSettings persists the UI settings.
func (s *Service) SaveSettings(ctx context.Context, settings model.Settings) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.SaveSettings(ctx, settings)
}

func settingsFromConfig(cfg *model.AppConfig) *model.Settings {
	settings := &model.Settings{}
	if cfg == nil {
		return settings
	}
	settings.IMAP = model.SettingsEndpoint{
		Host:   cfg.IMAP.Host,
		Port:   cfg.IMAP.Port,
		Secure: cfg.IMAP.Secure,
		User:   cfg.IMAP.Auth.User,
	}
	settings.SMTP = model.SettingsEndpoint{
		Host:   cfg.SMTP.Host,
		Port:   cfg.SMTP.Port,
		Secure: cfg.SMTP.Secure,
		User:   cfg.SMTP.Auth.User,
		From:   cfg.SMTP.From,
	}
	return settings
}
