package folder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var gmailFolders = []string{"INBOX", "[Gmail]/Sent Mail", "[Gmail]/Trash", "[Gmail]/Spam"}

func TestResolveGmail(t *testing.T) {
	assert.Equal(t, "[Gmail]/Sent Mail", Resolve(Sent, gmailFolders))
	assert.Equal(t, "[Gmail]/Trash", Resolve(Trash, gmailFolders))
	assert.Equal(t, "[Gmail]/Spam", Resolve(Spam, gmailFolders))
	assert.Equal(t, "INBOX", Resolve(Inbox, gmailFolders))
}

func TestResolveFallsBackToCanonical(t *testing.T) {
	assert.Equal(t, "Drafts", Resolve(Drafts, gmailFolders))
	assert.Equal(t, "Sent", Resolve(Sent, nil))
}

func TestResolveExactMatch(t *testing.T) {
	folders := []string{"INBOX", "Sent Items", "sent"}
	assert.Equal(t, "sent", Resolve(Sent, folders), "exact match beats alias")

	folders = []string{"Inbox", "Drafts"}
	assert.Equal(t, "Inbox", Resolve(Inbox, folders))
}

func TestResolveExactMatchFirstInListingOrder(t *testing.T) {
	folders := []string{"TRASH", "Trash"}
	assert.Equal(t, "TRASH", Resolve(Trash, folders))
}

func TestResolveNormalizesSeparatorsAndWhitespace(t *testing.T) {
	assert.Equal(t, `[Gmail]\Sent Mail`, Resolve(Sent, []string{"INBOX", `[Gmail]\Sent Mail`}))
	assert.Equal(t, "Archive//Junk   E-mail", Resolve(Spam, []string{"INBOX", "Archive//Junk   E-mail"}))
	assert.Equal(t, " Drafts ", Resolve(Drafts, []string{" Drafts "}))
}

func TestResolveDotDelimiter(t *testing.T) {
	folders := []string{"INBOX", "INBOX.Sent", "INBOX.Drafts", "INBOX.Junk", "INBOX.Trash"}
	assert.Equal(t, "INBOX.Sent", Resolve(Sent, folders))
	assert.Equal(t, "INBOX.Drafts", Resolve(Drafts, folders))
	assert.Equal(t, "INBOX.Junk", Resolve(Spam, folders))
	assert.Equal(t, "INBOX.Trash", Resolve(Trash, folders))
}

func TestResolveGmailTieBreak(t *testing.T) {
	folders := []string{"INBOX", "Sent Messages", "[Gmail]/Sent Mail"}
	assert.Equal(t, "[Gmail]/Sent Mail", Resolve(Sent, folders))

	folders = []string{"INBOX", "[GMAIL]/Bin", "Deleted Items"}
	assert.Equal(t, "[GMAIL]/Bin", Resolve(Trash, folders))
}

func TestResolveFirstAliasInListingOrder(t *testing.T) {
	folders := []string{"INBOX", "Deleted Messages", "Deleted Items"}
	assert.Equal(t, "Deleted Messages", Resolve(Trash, folders))
}

func TestResolveOutlookNames(t *testing.T) {
	folders := []string{"Inbox", "Sent Items", "Deleted Items", "Junk Email", "Drafts"}
	got := ResolveAll(folders)

	assert.Equal(t, map[Canonical]string{
		Inbox:  "Inbox",
		Sent:   "Sent Items",
		Drafts: "Drafts",
		Spam:   "Junk Email",
		Trash:  "Deleted Items",
	}, got)
}

func TestParseCanonical(t *testing.T) {
	c, ok := ParseCanonical("sent")
	assert.True(t, ok)
	assert.Equal(t, Sent, c)

	c, ok = ParseCanonical(" inbox ")
	assert.True(t, ok)
	assert.Equal(t, Inbox, c)

	_, ok = ParseCanonical("[Gmail]/Sent Mail")
	assert.False(t, ok)
}
