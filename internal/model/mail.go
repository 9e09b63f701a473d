package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// NoSubject is shown for messages without a Subject header.
const NoSubject = "(No Subject)"

// Auth holds login credentials for an IMAP or SMTP server.
type Auth struct {
	User string `json:"user" mapstructure:"user" yaml:"user"`
	Pass string `json:"pass,omitempty" mapstructure:"-" yaml:"-"`
}

// ImapConfig describes how to reach and authenticate against an IMAP server.
type ImapConfig struct {
	Host string `json:"host" mapstructure:"host" yaml:"host"`
	Port int    `json:"port" mapstructure:"port" yaml:"port"`

	// Secure selects implicit TLS (usually port 993).
	Secure bool `json:"secure" mapstructure:"secure" yaml:"secure"`

	// StartTLS upgrades a plaintext connection. Ignored when Secure is set.
	StartTLS bool `json:"startTLS,omitempty" mapstructure:"starttls" yaml:"starttls"`

	// RejectUnauthorized defaults to true when nil.
	RejectUnauthorized *bool `json:"rejectUnauthorized,omitempty" mapstructure:"reject_unauthorized" yaml:"reject_unauthorized,omitempty"`

	Auth Auth `json:"auth" mapstructure:"auth" yaml:"auth"`
}

// Addr returns the host:port dial address.
func (c ImapConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VerifyTLS reports whether server certificates must be validated.
func (c ImapConfig) VerifyTLS() bool {
	return c.RejectUnauthorized == nil || *c.RejectUnauthorized
}

// Validate checks that the config is complete enough to attempt a
// connection.
func (c ImapConfig) Validate() error {
	return validateEndpoint("imap", c.Host, c.Port, c.Auth)
}

// SmtpConfig describes the outbound SMTP server.
type SmtpConfig struct {
	Host               string `json:"host" mapstructure:"host" yaml:"host"`
	Port               int    `json:"port" mapstructure:"port" yaml:"port"`
	Secure             bool   `json:"secure" mapstructure:"secure" yaml:"secure"`
	RejectUnauthorized *bool  `json:"rejectUnauthorized,omitempty" mapstructure:"reject_unauthorized" yaml:"reject_unauthorized,omitempty"`
	Auth               Auth   `json:"auth" mapstructure:"auth" yaml:"auth"`

	// StartTLS upgrades a plaintext connection and fails when the server
	// does not offer it. Ignored when Secure is set.
	StartTLS bool `json:"startTLS,omitempty" mapstructure:"starttls" yaml:"starttls"`

	// From overrides the sender address. Defaults to Auth.User.
	From string `json:"from,omitempty" mapstructure:"from" yaml:"from,omitempty"`
}

// Addr returns the host:port dial address.
func (c SmtpConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VerifyTLS reports whether server certificates must be validated.
func (c SmtpConfig) VerifyTLS() bool {
	return c.RejectUnauthorized == nil || *c.RejectUnauthorized
}

// Sender returns the address used in the From header.
func (c SmtpConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Auth.User
}

// Validate checks the SMTP config for missing or malformed fields.
func (c SmtpConfig) Validate() error {
	if err := validateEndpoint("smtp", c.Host, c.Port, c.Auth); err != nil {
		return err
	}
	if c.From != "" {
		if _, err := mail.ParseAddress(c.From); err != nil {
			return fmt.Errorf("smtp: invalid from address %q: %w", c.From, err)
		}
	}
	return nil
}

func validateEndpoint(kind, host string, port int, auth Auth) error {
	var errs []error
	if strings.TrimSpace(host) == "" {
		errs = append(errs, fmt.Errorf("%s: host is required", kind))
	}
	if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("%s: port %d out of range", kind, port))
	}
	if strings.TrimSpace(auth.User) == "" {
		errs = append(errs, fmt.Errorf("%s: auth.user is required", kind))
	}
	if auth.Pass == "" {
		errs = append(errs, fmt.Errorf("%s: auth.pass is required", kind))
	}
	return errors.Join(errs...)
}

// MailOptions describes an outbound message.
type MailOptions struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
	ReplyTo string   `json:"replyTo,omitempty"`
	From    string   `json:"from,omitempty"`
}

// Recipients returns every envelope recipient: To, Cc and Bcc.
func (o MailOptions) Recipients() []string {
	all := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	all = append(all, o.To...)
	all = append(all, o.Cc...)
	all = append(all, o.Bcc...)
	return all
}

// Validate checks recipients and addresses.
func (o MailOptions) Validate() error {
	if len(o.To) == 0 {
		return errors.New("mail: at least one recipient is required")
	}
	for _, list := range [][]string{o.To, o.Cc, o.Bcc} {
		for _, addr := range list {
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("mail: invalid address %q: %w", addr, err)
			}
		}
	}
	if o.ReplyTo != "" {
		if _, err := mail.ParseAddress(o.ReplyTo); err != nil {
			return fmt.Errorf("mail: invalid replyTo %q: %w", o.ReplyTo, err)
		}
	}
	if o.From != "" {
		if _, err := mail.ParseAddress(o.From); err != nil {
			return fmt.Errorf("mail: invalid from %q: %w", o.From, err)
		}
	}
	return nil
}

// Result is the acknowledgement returned by connect and configure calls.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SendResult is returned after a message has been accepted by the SMTP
// server.
type SendResult struct {
	MessageID string `json:"messageId"`
}

// ListOptions controls paging for message listings. Offset counts from
// the newest message.
type ListOptions struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// MessageSummary is the cheap metadata used by list views.
type MessageSummary struct {
	UID     uint32    `json:"uid"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
}

// ListResult is one page of a folder listing.
type ListResult struct {
	Messages []MessageSummary `json:"messages"`
	Total    uint32           `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// UIDs returns the UIDs of the listed messages in listing order.
func (r *ListResult) UIDs() []uint32 {
	uids := make([]uint32, 0, len(r.Messages))
	for _, m := range r.Messages {
		uids = append(uids, m.UID)
	}
	return uids
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// MessageFull is a fully fetched and parsed message.
type MessageFull struct {
	MessageSummary

	Cc          string       `json:"cc,omitempty"`
	MessageID   string       `json:"messageId,omitempty"`
	InReplyTo   string       `json:"inReplyTo,omitempty"`
	References  []string     `json:"references,omitempty"`
	Text        string       `json:"text"`
	HTML        string       `json:"html"`
	Attachments []Attachment `json:"attachments"`
}

// NewMailEvent is emitted by the poller when unseen UIDs show up in INBOX.
type NewMailEvent struct {
	NewEmailCount int       `json:"newEmailCount"`
	TotalEmails   uint32    `json:"totalEmails"`
	Timestamp     time.Time `json:"timestamp"`
}
