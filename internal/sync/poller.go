package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
)

// SyncState represents the current state of the poller.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus is a snapshot of the poller's progress.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
	Baseline int
}

const (
	defaultInterval     = 5 * time.Minute
	defaultFetchTimeout = 30 * time.Second
	defaultWindow       = 100
	inbox               = "INBOX"
)

// Lister is the slice of the mailbox reader the poller needs.
type Lister interface {
	IsConnected() bool
	ListMessages(ctx context.Context, folder string, opts model.ListOptions) (*model.ListResult, error)
}

// Options tunes a Poller. Zero values select the defaults.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Window       int
}

// Poller periodically lists the newest INBOX messages and emits a
// NewMailEvent whenever UIDs show up that were absent from the previous
// listing.
type Poller struct {
	lister Lister
	log    zerolog.Logger
	opts   Options
	now    func() time.Time

	events    chan model.NewMailEvent
	triggerCh chan struct{}

	mu       gosync.Mutex
	running  bool
	stopCh   chan struct{}
	done     chan struct{}
	baseline map[uint32]struct{}
	status   SyncStatus
}

// New creates a Poller reading through lister.
func New(lister Lister, log zerolog.Logger, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	return &Poller{
		lister:    lister,
		log:       log.With().Str("component", "poller").Logger(),
		opts:      opts,
		now:       time.Now,
		events:    make(chan model.NewMailEvent, 16),
		triggerCh: make(chan struct{}, 1),
		baseline:  make(map[uint32]struct{}),
	}
}

// Events delivers new-mail notifications. Events are dropped rather than
// blocking the poller when nobody is reading.
func (p *Poller) Events() <-chan model.NewMailEvent {
	return p.events
}

// Start launches the polling goroutine. The first tick runs immediately.
// Calling Start on a running poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(p.stopCh, p.done)
}

// Stop halts polling and waits for an in-flight tick to finish. It is safe
// to call on a poller that was never started, and more than once.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
}

// Running reports whether the polling goroutine is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger requests an immediate tick without waiting for it.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A tick is already pending.
	}
}

// Status returns the current sync status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.Tick()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.Tick()
		case <-p.triggerCh:
			p.Tick()
		}
	}
}

// Tick performs one poll. Errors are logged and recorded in the status but
// never returned, so a failing tick cannot stop the schedule.
func (p *Poller) Tick() {
	if !p.lister.IsConnected() {
		return
	}

	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.FetchTimeout)
	defer cancel()

	res, err := p.lister.ListMessages(ctx, inbox, model.ListOptions{Limit: p.opts.Window})
	if err != nil {
		p.setStatus(SyncError, err)
		p.log.Warn().Err(err).Msg("Mail poll failed")
		return
	}

	newCount := p.diff(res.UIDs())
	p.setStatus(SyncIdle, nil)

	if newCount == 0 {
		return
	}

	p.log.Info().
		Int("new", newCount).
		Uint32("total", res.Total).
		Msg("New mail detected")

	p.sendEvent(model.NewMailEvent{
		NewEmailCount: newCount,
		TotalEmails:   res.Total,
		Timestamp:     p.now(),
	})
}

// diff counts UIDs absent from the previous listing and replaces the
// baseline with current.
func (p *Poller) diff(current []uint32) int {
	next := make(map[uint32]struct{}, len(current))
	for _, uid := range current {
		next[uid] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for uid := range next {
		if _, seen := p.baseline[uid]; !seen {
			count++
		}
	}
	p.baseline = next
	p.status.Baseline = len(next)
	return count
}

// SetBaseline seeds the set of already-known UIDs.
func (p *Poller) SetBaseline(uids []uint32) {
	p.diff(uids)
}

// ResetBaseline forgets every known UID, e.g. after switching accounts.
func (p *Poller) ResetBaseline() {
	p.diff(nil)
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = p.now()
	}
}

// sendEvent delivers ev without blocking.
func (p *Poller) sendEvent(ev model.NewMailEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Int("new", ev.NewEmailCount).Msg("Dropping new-mail event, channel full")
	}
}
