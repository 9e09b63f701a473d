package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/model"
)

func TestRenderListNewestFirst(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	out := renderList("INBOX", &model.ListResult{
		Total: 2,
		Messages: []model.MessageSummary{
			{UID: 1, Subject: "Older", From: "a@example.com", Date: date},
			{UID: 2, Subject: "Newer", From: "b@example.com", Date: date},
		},
	})

	assert.Contains(t, out, "INBOX (2)")
	assert.Less(t, strings.Index(out, "Newer"), strings.Index(out, "Older"))
	assert.Contains(t, out, "2024-03-01 09:30")
}

func TestRenderListEmpty(t *testing.T) {
	out := renderList("Sent", &model.ListResult{})
	assert.Contains(t, out, "No messages")
}

func TestRenderStatsCoversEveryCanonicalFolder(t *testing.T) {
	out := renderStats(map[folder.Canonical]uint32{folder.Inbox: 7})
	for _, c := range folder.All {
		assert.Contains(t, out, string(c))
	}
	assert.Contains(t, out, "7")
}

func TestRenderMessage(t *testing.T) {
	out := renderMessage(&model.MessageFull{
		MessageSummary: model.MessageSummary{UID: 5, Subject: "Report", From: "Ann <ann@example.com>"},
		Text:           "See attached.",
		Attachments:    []model.Attachment{{Filename: "q1.csv", ContentType: "text/csv", Size: 42}},
	})

	assert.Contains(t, out, "Report")
	assert.Contains(t, out, "Ann <ann@example.com>")
	assert.Contains(t, out, "See attached.")
	assert.Contains(t, out, "q1.csv")
	assert.NotContains(t, out, "Cc")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, model.Result{Success: true, Message: "ok"}))
	assert.JSONEq(t, `{"success":true,"message":"ok"}`, buf.String())
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	for _, bad := range []string{"", "0", "-3", "x", "4294967296"} {
		_, err := parseUID(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidatePort(t *testing.T) {
	assert.NoError(t, validatePort("993"))
	assert.NoError(t, validatePort(" 587 "))
	assert.Error(t, validatePort("0"))
	assert.Error(t, validatePort("70000"))
	assert.Error(t, validatePort("imap"))
	assert.Error(t, validateRequired("Host")("  "))
}
