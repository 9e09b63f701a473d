package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/model"
)

// ErrMissingCredentials is returned by AutoLogin when no IMAP user or
// password is available.
var ErrMissingCredentials = errors.New("IMAP credentials not configured")

const maxBackoff = 30 * time.Second

// AutoLogin connects with cfg, retrying transient failures with
// exponential backoff. Rejected credentials are not retried. The service
// keeps running on failure; the poller simply has nothing to poll.
func (s *Service) AutoLogin(ctx context.Context, cfg model.ImapConfig, login model.LoginConfig) error {
	log := s.log.With().
		Str("addr", cfg.Addr()).
		Str("user", logging.MaskEmail(cfg.Auth.User)).
		Logger()

	if cfg.Auth.User == "" || cfg.Auth.Pass == "" {
		log.Error().Msg("Auto-login skipped, IMAP user or password missing")
		return ErrMissingCredentials
	}

	attempts := max(login.MaxAttempts, 1)
	delay := time.Duration(login.BackoffSec) * time.Second

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, err := s.Connect(ctx, cfg)
		if err == nil {
			log.Info().Int("attempt", attempt).Msg("Auto-login succeeded")
			return nil
		}
		lastErr = err

		log.Warn().Err(err).Int("attempt", attempt).Int("max", attempts).Msg("Auto-login attempt failed")

		if !retryable(err) || attempt == attempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, maxBackoff)
	}

	log.Error().Err(lastErr).Msg("Auto-login failed, waiting for an explicit connect")
	return fmt.Errorf("auto-login: %w", lastErr)
}

// retryable reports whether a connect failure may succeed on a later
// attempt. A tagged NO or BAD reply means the server rejected us.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var imapErr *imap.Error
	return !errors.As(err, &imapErr)
}
