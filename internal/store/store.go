package store

import (
	"context"
	"errors"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// NotificationFilter controls filtering and pagination for notification
// queries. Results are always newest first.
type NotificationFilter struct {
	UnreadOnly bool
	Folder     string
	Limit      int
	Offset     int
}

// Store defines the persistence interface for UI settings and the new-mail
// notification history.
type Store interface {
	// === Settings ===

	SaveSettings(ctx context.Context, s model.Settings) error
	GetSettings(ctx context.Context) (*model.Settings, error)

	// === Notifications ===

	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	GetNotifications(ctx context.Context, filter NotificationFilter) ([]model.Notification, error)
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	PruneNotifications(ctx context.Context, keep int) (int64, error)

	Close() error
}
