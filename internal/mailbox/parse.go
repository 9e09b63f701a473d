package mailbox

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// summaryFromBuffer builds a list-view summary from fetched envelope data.
func summaryFromBuffer(buf *imapclient.FetchMessageBuffer, now time.Time) model.MessageSummary {
	sum := model.MessageSummary{
		UID:     uint32(buf.UID),
		Subject: model.NoSubject,
	}

	if env := buf.Envelope; env != nil {
		if len(env.From) > 0 {
			sum.From = formatIMAPAddress(env.From[0])
		}
		sum.To = joinIMAPAddresses(env.To)
		if s := strings.TrimSpace(env.Subject); s != "" {
			sum.Subject = s
		}
		sum.Date = env.Date
	}

	if sum.Date.IsZero() {
		sum.Date = buf.InternalDate
	}
	if sum.Date.IsZero() {
		sum.Date = now
	}

	return sum
}

func formatIMAPAddress(a imap.Address) string {
	addr := a.Addr()
	if a.Name == "" {
		return addr
	}
	if addr == "" {
		return a.Name
	}
	return a.Name + " <" + addr + ">"
}

func joinIMAPAddresses(list []imap.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if s := formatIMAPAddress(a); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func joinMailAddresses(list []*mail.Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			parts = append(parts, a.Name+" <"+a.Address+">")
		} else {
			parts = append(parts, a.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// ParseMessage decodes a raw RFC 5322 message into its structured form.
// Attachment content is measured and discarded. If the message cannot be
// parsed as MIME at all, the raw bytes are returned as the text body.
func ParseMessage(uid uint32, raw []byte) *model.MessageFull {
	msg := &model.MessageFull{
		MessageSummary: model.MessageSummary{
			UID:     uid,
			Subject: model.NoSubject,
		},
		Attachments: []model.Attachment{},
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		msg.Text = string(raw)
		return msg
	}
	defer mr.Close()

	h := mr.Header
	if list, err := h.AddressList("From"); err == nil {
		msg.From = joinMailAddresses(list)
	}
	if list, err := h.AddressList("To"); err == nil {
		msg.To = joinMailAddresses(list)
	}
	if list, err := h.AddressList("Cc"); err == nil {
		msg.Cc = joinMailAddresses(list)
	}
	if s, err := h.Subject(); err == nil && strings.TrimSpace(s) != "" {
		msg.Subject = strings.TrimSpace(s)
	}
	if d, err := h.Date(); err == nil {
		msg.Date = d
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		msg.References = ids
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep whatever was decoded before the broken part.
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := ph.ContentType()
			switch {
			case contentType == "text/plain" && msg.Text == "":
				body, _ := io.ReadAll(part.Body)
				msg.Text = string(body)
			case contentType == "text/html" && msg.HTML == "":
				body, _ := io.ReadAll(part.Body)
				msg.HTML = string(body)
			case strings.HasPrefix(contentType, "text/"):
				_, _ = io.Copy(io.Discard, part.Body)
			default:
				size, _ := io.Copy(io.Discard, part.Body)
				msg.Attachments = append(msg.Attachments, model.Attachment{
					Filename:    params["name"],
					ContentType: contentType,
					Size:        size,
				})
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			msg.Attachments = append(msg.Attachments, model.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        size,
			})
		}
	}

	return msg
}
