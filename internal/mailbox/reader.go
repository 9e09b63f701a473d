package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/model"
)

// Reader lists folders and messages through a shared Session.
type Reader struct {
	session *Session
	log     zerolog.Logger
	now     func() time.Time
}

// NewReader creates a Reader bound to session.
func NewReader(session *Session, log zerolog.Logger) *Reader {
	return &Reader{
		session: session,
		log:     log.With().Str("component", "reader").Logger(),
		now:     time.Now,
	}
}

// IsConnected reports whether the underlying session is live.
func (r *Reader) IsConnected() bool {
	return r.session.IsConnected()
}

// ListFolders returns every mailbox path the server reports.
func (r *Reader) ListFolders(ctx context.Context) ([]string, error) {
	var folders []string
	err := r.session.withClient(ctx, func(c *imapclient.Client) error {
		list, err := c.List("", "*", nil).Collect()
		if err != nil {
			return fmt.Errorf("listing folders: %w", err)
		}
		folders = make([]string, 0, len(list))
		for _, mbox := range list {
			folders = append(folders, mbox.Mailbox)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// ListMessages returns one newest-first page of folder. Messages come back
// in the order the server sent them, which is ascending sequence order.
func (r *Reader) ListMessages(
	ctx context.Context,
	folder string,
	opts model.ListOptions,
) (*model.ListResult, error) {
	result := &model.ListResult{
		Messages: []model.MessageSummary{},
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}

	err := r.session.withMailbox(ctx, folder, true, func(c *imapclient.Client, data *imap.SelectData) error {
		result.Total = data.NumMessages

		start, end, ok := SeqRange(data.NumMessages, opts.Limit, opts.Offset)
		if !ok {
			return nil
		}

		var seqSet imap.SeqSet
		seqSet.AddRange(start, end)

		fetchCmd := c.Fetch(seqSet, &imap.FetchOptions{
			Envelope:     true,
			UID:          true,
			InternalDate: true,
		})
		defer fetchCmd.Close()

		now := r.now()
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				r.log.Debug().Err(err).Uint32("seq", msg.SeqNum).Msg("Skipping unreadable message")
				continue
			}
			result.Messages = append(result.Messages, summaryFromBuffer(buf, now))
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("fetching %s %d:%d: %w", folder, start, end, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetMessage fetches and parses the full source of one message without
// setting \Seen.
func (r *Reader) GetMessage(ctx context.Context, folder string, uid uint32) (*model.MessageFull, error) {
	var parsed *model.MessageFull

	err := r.session.withMailbox(ctx, folder, true, func(c *imapclient.Client, _ *imap.SelectData) error {
		section := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := c.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
			UID:          true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{section},
		})
		defer fetchCmd.Close()

		msgs, err := fetchCmd.Collect()
		if err != nil {
			return fmt.Errorf("fetching UID %d from %s: %w", uid, folder, err)
		}

		for _, buf := range msgs {
			if uint32(buf.UID) != uid {
				continue
			}
			raw := buf.FindBodySection(section)
			if raw == nil {
				continue
			}
			parsed = ParseMessage(uid, raw)
			if parsed.Date.IsZero() {
				parsed.Date = buf.InternalDate
			}
			if parsed.Date.IsZero() {
				parsed.Date = r.now()
			}
			return nil
		}
		return fmt.Errorf("UID %d in %s: %w", uid, folder, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}

	return parsed, nil
}

// Status returns the message count of folder without selecting it.
func (r *Reader) Status(ctx context.Context, folder string) (uint32, error) {
	var total uint32
	err := r.session.withClient(ctx, func(c *imapclient.Client) error {
		data, err := c.Status(folder, &imap.StatusOptions{NumMessages: true}).Wait()
		if err != nil {
			return folderError(folder, fmt.Errorf("status %s: %w", folder, err))
		}
		if data.NumMessages != nil {
			total = *data.NumMessages
		}
		return nil
	})
	return total, err
}

// FolderStats reports the message count of every canonical folder, resolved
// against providerFolders. A folder whose STATUS fails counts as 0.
func (r *Reader) FolderStats(ctx context.Context, providerFolders []string) (map[folder.Canonical]uint32, error) {
	if !r.session.IsConnected() {
		return nil, ErrNotConnected
	}

	stats := make(map[folder.Canonical]uint32, len(folder.All))
	for canonical, path := range folder.ResolveAll(providerFolders) {
		total, err := r.Status(ctx, path)
		if err != nil {
			if ctx.Err() != nil || IsNotConnected(err) {
				return nil, err
			}
			r.log.Debug().Err(err).Str("folder", path).Msg("Folder status unavailable")
		}
		stats[canonical] = total
	}
	return stats, nil
}
