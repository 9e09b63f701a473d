package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

const dateLayout = "2006-01-02 15:04"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderFolders(folders []string) string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Folders"))
	b.WriteString("\n")
	for _, f := range folders {
		b.WriteString("  " + f + "\n")
	}
	return b.String()
}

func renderStats(stats map[folder.Canonical]uint32) string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Folder stats"))
	b.WriteString("\n")
	for _, c := range folder.All {
		n := stats[c]
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			theme.LabelStyle.Render(string(c)),
			theme.CountStyle(n).Render(fmt.Sprint(n)),
		))
		b.WriteString("\n")
	}
	return b.String()
}

// renderList prints newest first, the reverse of the server's sequence order.
func renderList(name string, res *model.ListResult) string {
	var b strings.Builder
	header := fmt.Sprintf("%s (%d)", name, res.Total)
	b.WriteString(theme.HeaderStyle.Render(header))
	b.WriteString("\n")

	if len(res.Messages) == 0 {
		b.WriteString(theme.HelpStyle.Render("  No messages"))
		b.WriteString("\n")
		return b.String()
	}

	for i := len(res.Messages) - 1; i >= 0; i-- {
		m := res.Messages[i]
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			theme.UIDStyle.Render(fmt.Sprint(m.UID)),
			m.Date.Format(dateLayout)+"  ",
			theme.SubjectStyle.Render(m.Subject),
			theme.HelpStyle.Render("  "+m.From),
		))
		b.WriteString("\n")
	}
	return b.String()
}

func renderMessage(msg *model.MessageFull) string {
	var b strings.Builder

	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, theme.LabelStyle.Render(label), value))
		b.WriteString("\n")
	}

	b.WriteString(theme.HeaderStyle.Render(msg.Subject))
	b.WriteString("\n")
	field("From", msg.From)
	field("To", msg.To)
	field("Cc", msg.Cc)
	field("Date", msg.Date.Format(dateLayout))
	field("UID", fmt.Sprint(msg.UID))

	body := msg.Text
	if body == "" && msg.HTML != "" {
		body = theme.HelpStyle.Render("(HTML only, use --json to see the markup)")
	}
	b.WriteString(theme.MessagePanelStyle.Render(strings.TrimSpace(body)))
	b.WriteString("\n")

	for _, att := range msg.Attachments {
		b.WriteString(theme.HelpStyle.Render(fmt.Sprintf("  attachment: %s (%s, %d bytes)", att.Filename, att.ContentType, att.Size)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderResult(res model.Result) string {
	if res.Success {
		return theme.SuccessStyle.Render("✓") + " " + res.Message
	}
	return theme.ErrorStyle.Render("✗") + " " + res.Message
}
