package mailbox

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"
)

// Executor applies destructive changes to messages.
type Executor struct {
	session *Session
	log     zerolog.Logger
}

// NewExecutor creates an Executor bound to session.
func NewExecutor(session *Session, log zerolog.Logger) *Executor {
	return &Executor{
		session: session,
		log:     log.With().Str("component", "mutate").Logger(),
	}
}

// DeleteMessage flags uid as \Deleted and expunges it. With UIDPLUS only uid
// is expunged; otherwise the whole folder is. Deleting a UID that no longer
// exists succeeds.
func (e *Executor) DeleteMessage(ctx context.Context, folder string, uid uint32) error {
	return e.session.withMailbox(ctx, folder, false, func(c *imapclient.Client, _ *imap.SelectData) error {
		uids := imap.UIDSetNum(imap.UID(uid))
		storeCmd := c.Store(uids, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("flagging UID %d in %s: %w", uid, folder, err)
		}

		expunge := c.Expunge
		if c.Caps().Has(imap.CapUIDPlus) {
			expunge = func() *imapclient.ExpungeCommand { return c.UIDExpunge(uids) }
		}
		if err := expunge().Close(); err != nil {
			return fmt.Errorf("expunging %s: %w", folder, err)
		}

		e.log.Debug().
			Str("folder", folder).
			Uint32("uid", uid).
			Msg("Message deleted")
		return nil
	})
}

// MoveMessage moves uid from folder to target. target must already be a
// server path.
func (e *Executor) MoveMessage(ctx context.Context, folder string, uid uint32, target string) error {
	return e.session.withMailbox(ctx, folder, false, func(c *imapclient.Client, _ *imap.SelectData) error {
		if _, err := c.Move(imap.UIDSetNum(imap.UID(uid)), target).Wait(); err != nil {
			return folderError(target, fmt.Errorf("moving UID %d from %s to %s: %w", uid, folder, target, err))
		}

		e.log.Debug().
			Str("folder", folder).
			Str("target", target).
			Uint32("uid", uid).
			Msg("Message moved")
		return nil
	})
}
