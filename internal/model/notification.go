package model

import "time"

// Notification is a persisted record of a new-mail event surfaced to the
// user.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `json:"id"`

	// Folder is the mailbox the new mail arrived in.
	Folder string `json:"folder"`

	// NewEmailCount is how many previously unseen UIDs were detected.
	NewEmailCount int `json:"newEmailCount"`

	// TotalEmails is the folder's message count at poll time.
	TotalEmails uint32 `json:"totalEmails"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when the poller detected the new mail.
	CreatedAt time.Time `json:"createdAt"`
}

// Settings are the non-secret connection parameters the UI last used.
// Passwords are deliberately absent.
type Settings struct {
	IMAP SettingsEndpoint `json:"imap"`
	SMTP SettingsEndpoint `json:"smtp"`

	// Extra carries arbitrary UI preferences (theme, filters).
	Extra map[string]string `json:"extra,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// SettingsEndpoint is the password-free subset of an IMAP or SMTP config.
type SettingsEndpoint struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
	User   string `json:"user"`
	From   string `json:"from,omitempty"`
}
