package mailbox

import (
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
)

var (
	// ErrNotConnected is returned by any mailbox call made without a live
	// session.
	ErrNotConnected = errors.New("not connected to IMAP server")

	// ErrConnectionFailed marks auth, TLS and network failures during
	// connect.
	ErrConnectionFailed = errors.New("IMAP connection failed")

	// ErrNotFound is returned when a requested UID no longer exists.
	ErrNotFound = errors.New("message not found")

	// ErrFolderNotFound is returned when the server rejects a mailbox name.
	ErrFolderNotFound = errors.New("folder not found")
)

// ConnectionError carries the protocol-level cause of a failed connect.
// Error returns the underlying message verbatim so it can be shown to the
// user as is.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return e.Err.Error()
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnectionFailed, e.Err}
}

// FolderError reports a mailbox the server does not know about.
type FolderError struct {
	Folder string
	Err    error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("folder %q not found: %v", e.Folder, e.Err)
}

func (e *FolderError) Unwrap() []error {
	return []error{ErrFolderNotFound, e.Err}
}

// IsNotConnected reports whether err (or any error in its chain) means
// there is no live session.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// folderError converts a NO/NONEXISTENT/TRYCREATE reply for folder into a
// FolderError. Other errors are returned unchanged.
func folderError(folder string, err error) error {
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		return err
	}
	switch imapErr.Code {
	case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
		return &FolderError{Folder: folder, Err: err}
	}
	if imapErr.Type == imap.StatusResponseTypeNo && imapErr.Code == "" {
		return &FolderError{Folder: folder, Err: err}
	}
	return err
}
