package mailbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/tests/testutil"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestListFoldersNotConnected(t *testing.T) {
	r := NewReader(NewSession(), testLogger())

	_, err := r.ListFolders(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsNotConnected(err))
}

func TestListFolders(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "Sent", "Trash")
	r := NewReader(connectedSession(t, srv), testLogger())

	folders, err := r.ListFolders(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"INBOX", "Sent", "Trash"}, folders)
}

func TestListMessagesNotConnected(t *testing.T) {
	r := NewReader(NewSession(), testLogger())

	_, err := r.ListMessages(context.Background(), "INBOX", model.ListOptions{Limit: 20})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestListMessagesNewestPage(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 25)
	r := NewReader(connectedSession(t, srv), testLogger())

	res, err := r.ListMessages(context.Background(), "INBOX", model.ListOptions{Limit: 20, Offset: 0})
	require.NoError(t, err)

	assert.Equal(t, uint32(25), res.Total)
	assert.Equal(t, 20, res.Limit)
	assert.Equal(t, 0, res.Offset)
	require.Len(t, res.Messages, 20)

	// Ascending sequence order, as received from the server.
	assert.Equal(t, "Message 6", res.Messages[0].Subject)
	assert.Equal(t, "Message 25", res.Messages[19].Subject)
	for i := 1; i < len(res.Messages); i++ {
		assert.Less(t, res.Messages[i-1].UID, res.Messages[i].UID)
	}

	first := res.Messages[0]
	assert.Equal(t, "Sender <sender@example.com>", first.From)
	assert.Equal(t, testutil.DefaultUser, first.To)
	assert.False(t, first.Date.IsZero())
}

func TestListMessagesSecondPage(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 12)
	r := NewReader(connectedSession(t, srv), testLogger())

	res, err := r.ListMessages(context.Background(), "INBOX", model.ListOptions{Limit: 5, Offset: 10})
	require.NoError(t, err)

	assert.Equal(t, uint32(12), res.Total)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, "Message 1", res.Messages[0].Subject)
	assert.Equal(t, "Message 2", res.Messages[1].Subject)
}

func TestListMessagesEmptyPages(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "Drafts")
	srv.Seed(t, "INBOX", 3)
	r := NewReader(connectedSession(t, srv), testLogger())
	ctx := context.Background()

	tests := []struct {
		name      string
		folder    string
		opts      model.ListOptions
		wantTotal uint32
	}{
		{"empty folder", "Drafts", model.ListOptions{Limit: 20}, 0},
		{"zero limit", "INBOX", model.ListOptions{Limit: 0}, 3},
		{"negative limit", "INBOX", model.ListOptions{Limit: -4}, 3},
		{"offset past end", "INBOX", model.ListOptions{Limit: 20, Offset: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.ListMessages(ctx, tt.folder, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Empty(t, res.Messages)
			assert.NotNil(t, res.Messages)
		})
	}
}

func TestListMessagesSubjectDefault(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Append(t, "INBOX", testutil.Message("a@example.com", "b@example.com", "", "no subject here"))
	r := NewReader(connectedSession(t, srv), testLogger())

	res, err := r.ListMessages(context.Background(), "INBOX", model.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, model.NoSubject, res.Messages[0].Subject)
	assert.Equal(t, "a@example.com", res.Messages[0].From)
}

func TestListMessagesUnknownFolderReleasesLock(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 1)
	s := connectedSession(t, srv)
	r := NewReader(s, testLogger())
	ctx := context.Background()

	_, err := r.ListMessages(ctx, "Nope", model.ListOptions{Limit: 10})
	require.ErrorIs(t, err, ErrFolderNotFound)

	var folderErr *FolderError
	require.ErrorAs(t, err, &folderErr)
	assert.Equal(t, "Nope", folderErr.Folder)
	assert.Equal(t, 0, s.locks.held())

	// A second call on the same folder must not hang.
	_, err = r.ListMessages(ctx, "Nope", model.ListOptions{Limit: 10})
	require.ErrorIs(t, err, ErrFolderNotFound)

	res, err := r.ListMessages(ctx, "INBOX", model.ListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)
}

func TestListMessagesCancelledContext(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 1)
	r := NewReader(connectedSession(t, srv), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ListMessages(ctx, "INBOX", model.ListOptions{Limit: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetMessage(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 3)
	r := NewReader(connectedSession(t, srv), testLogger())
	ctx := context.Background()

	list, err := r.ListMessages(ctx, "INBOX", model.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list.Messages, 3)
	uid := list.Messages[1].UID

	msg, err := r.GetMessage(ctx, "INBOX", uid)
	require.NoError(t, err)

	assert.Equal(t, uid, msg.UID)
	assert.Equal(t, "Message 2", msg.Subject)
	assert.Equal(t, "Sender <sender@example.com>", msg.From)
	assert.Equal(t, testutil.DefaultUser, msg.To)
	assert.Contains(t, msg.Text, "Body 2")
	assert.Empty(t, msg.HTML)
	assert.Empty(t, msg.Attachments)
	assert.Equal(t, "message-2@example.com", msg.MessageID)
	assert.False(t, msg.Date.IsZero())
}

func TestGetMessageNotFound(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.Seed(t, "INBOX", 1)
	s := connectedSession(t, srv)
	r := NewReader(s, testLogger())

	_, err := r.GetMessage(context.Background(), "INBOX", 999)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.locks.held())
}

func TestStatus(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "Sent")
	srv.Seed(t, "Sent", 4)
	r := NewReader(connectedSession(t, srv), testLogger())

	n, err := r.Status(context.Background(), "Sent")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	_, err = r.Status(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestConcurrentListings(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "Sent")
	srv.Seed(t, "INBOX", 5)
	srv.Seed(t, "Sent", 2)
	r := NewReader(connectedSession(t, srv), testLogger())
	ctx := context.Background()

	errs := make(chan error, 10)
	for i := range 10 {
		folder, want := "INBOX", uint32(5)
		if i%2 == 1 {
			folder, want = "Sent", 2
		}
		go func() {
			res, err := r.ListMessages(ctx, folder, model.ListOptions{Limit: 10})
			if err == nil && res.Total != want {
				err = fmt.Errorf("%s: total %d, want %d", folder, res.Total, want)
			}
			errs <- err
		}()
	}
	for range 10 {
		assert.NoError(t, <-errs)
	}
}

func TestFolderStats(t *testing.T) {
	srv := testutil.NewIMAPServer(t, "[Gmail]/Sent Mail", "[Gmail]/Trash")
	srv.Seed(t, "INBOX", 3)
	srv.Seed(t, "[Gmail]/Sent Mail", 2)
	r := NewReader(connectedSession(t, srv), testLogger())
	ctx := context.Background()

	folders, err := r.ListFolders(ctx)
	require.NoError(t, err)

	stats, err := r.FolderStats(ctx, folders)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stats["INBOX"])
	assert.Equal(t, uint32(2), stats["Sent"])
	assert.Equal(t, uint32(0), stats["Trash"])
	// Drafts and Spam do not exist on this server and are reported as empty.
	assert.Equal(t, uint32(0), stats["Drafts"])
	assert.Len(t, stats, 5)
}

func TestFolderStatsNotConnected(t *testing.T) {
	r := NewReader(NewSession(), testLogger())

	_, err := r.FolderStats(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}
