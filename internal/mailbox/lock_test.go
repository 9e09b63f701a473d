package mailbox

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTableExclusivePerFolder(t *testing.T) {
	locks := newLockTable()
	ctx := context.Background()

	release, err := locks.acquire(ctx, "INBOX")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(ctx, "INBOX")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the folder is held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should proceed after release")
	}
}

func TestLockTableIndependentFolders(t *testing.T) {
	locks := newLockTable()
	ctx := context.Background()

	r1, err := locks.acquire(ctx, "INBOX")
	require.NoError(t, err)
	defer r1()

	r2, err := locks.acquire(ctx, "Sent")
	require.NoError(t, err)
	defer r2()

	assert.Equal(t, 2, locks.held())
}

func TestLockTableHonoursContext(t *testing.T) {
	locks := newLockTable()

	release, err := locks.acquire(context.Background(), "INBOX")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locks.acquire(ctx, "INBOX")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Equal(t, 0, locks.held())
}

func TestLockTableReleaseIsIdempotent(t *testing.T) {
	locks := newLockTable()

	release, err := locks.acquire(context.Background(), "INBOX")
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, 0, locks.held())

	again, err := locks.acquire(context.Background(), "INBOX")
	require.NoError(t, err)
	again()
}

func TestLockTableKeyIsIndependentOfCallerBuffer(t *testing.T) {
	locks := newLockTable()

	buf := []byte("Archive")
	folder := unsafe.String(&buf[0], len(buf))

	release, err := locks.acquire(context.Background(), folder)
	require.NoError(t, err)

	copy(buf, "Zzzzzzz")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "Archive")
	require.ErrorIs(t, err, context.DeadlineExceeded, "Archive must still be held")

	release()
	assert.Equal(t, 0, locks.held())
}
