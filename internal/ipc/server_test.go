package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/outbound"
	"github.com/nhle/mailsync/internal/store"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	connected  bool
	connectErr error
	connectCfg *model.ImapConfig

	listFolder string
	listOpts   model.ListOptions
	listErr    error

	getErr error

	moveFrom, moveTarget string
	moveUID              uint32

	sendErr  error
	sentOpts *model.MailOptions

	events     []model.NewMailEvent
	streamOpen bool
	triggered  bool

	marked   []string
	settings model.Settings
}

func (f *fakeBackend) Connect(_ context.Context, cfg model.ImapConfig) (model.Result, error) {
	f.connectCfg = &cfg
	if f.connectErr != nil {
		return model.Result{}, f.connectErr
	}
	f.connected = true
	return model.Result{Success: true, Message: "Connected to IMAP server"}, nil
}

func (f *fakeBackend) Disconnect(context.Context) model.Result {
	f.connected = false
	return model.Result{Success: true, Message: "Disconnected from IMAP server"}
}

func (f *fakeBackend) IsConnected() bool    { return f.connected }
func (f *fakeBackend) SMTPConfigured() bool { return false }

func (f *fakeBackend) ListFolders(context.Context) ([]string, error) {
	if !f.connected {
		return nil, mailbox.ErrNotConnected
	}
	return []string{"INBOX", "[Gmail]/Sent Mail"}, nil
}

func (f *fakeBackend) FolderStats(context.Context) (map[folder.Canonical]uint32, error) {
	return map[folder.Canonical]uint32{folder.Inbox: 12, folder.Sent: 3}, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, name string, opts model.ListOptions) (*model.ListResult, error) {
	f.listFolder, f.listOpts = name, opts
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &model.ListResult{
		Messages: []model.MessageSummary{{UID: 7, Subject: "Hello"}},
		Total:    1,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}, nil
}

func (f *fakeBackend) GetMessage(_ context.Context, _ string, uid uint32) (*model.MessageFull, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &model.MessageFull{MessageSummary: model.MessageSummary{UID: uid}, Attachments: []model.Attachment{}}, nil
}

func (f *fakeBackend) DeleteMessage(context.Context, string, uint32) (model.Result, error) {
	return model.Result{Success: true, Message: "Message deleted"}, nil
}

func (f *fakeBackend) MoveMessage(_ context.Context, from string, uid uint32, target string) (model.Result, error) {
	f.moveFrom, f.moveUID, f.moveTarget = from, uid, target
	return model.Result{Success: true}, nil
}

func (f *fakeBackend) ConfigureSMTP(context.Context, model.SmtpConfig) (model.Result, error) {
	return model.Result{Success: true, Message: "SMTP configured successfully"}, nil
}

func (f *fakeBackend) SendMail(_ context.Context, opts model.MailOptions) (model.SendResult, error) {
	f.sentOpts = &opts
	if f.sendErr != nil {
		return model.SendResult{}, f.sendErr
	}
	return model.SendResult{MessageID: "<id@example.com>"}, nil
}

func (f *fakeBackend) Subscribe() (<-chan model.NewMailEvent, func()) {
	ch := make(chan model.NewMailEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	if !f.streamOpen {
		close(ch)
	}
	return ch, func() {}
}

func (f *fakeBackend) TriggerPoll() { f.triggered = true }

func (f *fakeBackend) Notifications(context.Context, store.NotificationFilter) ([]model.Notification, error) {
	return []model.Notification{{ID: "n1", Folder: "INBOX", NewEmailCount: 2}}, nil
}

func (f *fakeBackend) MarkNotificationRead(_ context.Context, id string) error {
	if id == "missing" {
		return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
	}
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeBackend) Settings(context.Context) (*model.Settings, error) {
	s := f.settings
	return &s, nil
}

func (f *fakeBackend) SaveSettings(_ context.Context, s model.Settings) error {
	f.settings = s
	return nil
}

func newTestServer(backend Backend, token string) *Server {
	return NewServer(backend, model.BridgeConfig{Token: token, RequestTimeoutSec: 5}, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, target, body string) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func errorMessage(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error
}

const validConnect = `{"host":"imap.example.com","port":993,"secure":true,"auth":{"user":"me@example.com","pass":"secret"}}`

func TestConnect(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, data := do(t, s, http.MethodPost, "/imap/connect", validConnect)
	require.Equal(t, http.StatusOK, code, string(data))

	var res model.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Success)
	require.NotNil(t, b.connectCfg)
	assert.Equal(t, "secret", b.connectCfg.Auth.Pass)
}

func TestConnectRejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "request body is required"},
		{"not json", "{", "invalid request body"},
		{"unknown field", `{"host":"h","port":993,"auth":{"user":"u","pass":"p"},"bogus":1}`, "unknown field"},
		{"missing host", `{"port":993,"auth":{"user":"u","pass":"p"}}`, "host is required"},
		{"bad port", `{"host":"h","port":70000,"auth":{"user":"u","pass":"p"}}`, "out of range"},
		{"missing password", `{"host":"h","port":993,"auth":{"user":"u"}}`, "auth.pass is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			s := newTestServer(b, "")

			code, data := do(t, s, http.MethodPost, "/imap/connect", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, errorMessage(t, data), tt.want)
			assert.Nil(t, b.connectCfg, "invalid input must not reach the backend")
		})
	}
}

func TestConnectFailureKeepsProtocolMessage(t *testing.T) {
	b := &fakeBackend{connectErr: &mailbox.ConnectionError{
		Addr: "imap.example.com:993",
		Err:  errors.New("Invalid credentials (Failure)"),
	}}
	s := newTestServer(b, "")

	code, data := do(t, s, http.MethodPost, "/imap/connect", validConnect)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "Invalid credentials (Failure)", errorMessage(t, data))
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{mailbox.ErrNotConnected, http.StatusConflict},
		{fmt.Errorf("UID 9: %w", mailbox.ErrNotFound), http.StatusNotFound},
		{&mailbox.FolderError{Folder: "Nope", Err: errors.New("NO")}, http.StatusNotFound},
		{outbound.ErrNotConfigured, http.StatusPreconditionFailed},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			b := &fakeBackend{connected: true, listErr: tt.err}
			s := newTestServer(b, "")

			code, data := do(t, s, http.MethodGet, "/imap/messages", "")
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.err.Error(), errorMessage(t, data))
		})
	}
}

func TestListMessagesDefaults(t *testing.T) {
	b := &fakeBackend{connected: true}
	s := newTestServer(b, "")

	code, data := do(t, s, http.MethodGet, "/imap/messages", "")
	require.Equal(t, http.StatusOK, code, string(data))
	assert.Equal(t, "INBOX", b.listFolder)
	assert.Equal(t, model.ListOptions{Limit: 20, Offset: 0}, b.listOpts)

	var res model.ListResult
	require.NoError(t, json.Unmarshal(data, &res))
	require.Len(t, res.Messages, 1)
	assert.Equal(t, uint32(7), res.Messages[0].UID)
}

func TestListMessagesQuery(t *testing.T) {
	b := &fakeBackend{connected: true}
	s := newTestServer(b, "")

	code, _ := do(t, s, http.MethodGet, "/imap/messages?folder=Sent&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Sent", b.listFolder)
	assert.Equal(t, model.ListOptions{Limit: 5, Offset: 10}, b.listOpts)

	code, data := do(t, s, http.MethodGet, "/imap/messages?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorMessage(t, data), "invalid limit")
}

func TestGetMessageBadUID(t *testing.T) {
	s := newTestServer(&fakeBackend{connected: true}, "")

	for _, uid := range []string{"abc", "0", "-1", "4294967296"} {
		code, _ := do(t, s, http.MethodGet, "/imap/messages/"+uid, "")
		assert.Equal(t, http.StatusBadRequest, code, uid)
	}

	code, data := do(t, s, http.MethodGet, "/imap/messages/42?folder=Sent", "")
	require.Equal(t, http.StatusOK, code)
	var msg model.MessageFull
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, uint32(42), msg.UID)
}

func TestMoveMessage(t *testing.T) {
	b := &fakeBackend{connected: true}
	s := newTestServer(b, "")

	code, _ := do(t, s, http.MethodPost, "/imap/messages/9/move?folder=INBOX", `{"target":"Trash"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "INBOX", b.moveFrom)
	assert.Equal(t, uint32(9), b.moveUID)
	assert.Equal(t, "Trash", b.moveTarget)

	code, data := do(t, s, http.MethodPost, "/imap/messages/9/move", `{"target":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorMessage(t, data), "target is required")
}

func TestSendMail(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, data := do(t, s, http.MethodPost, "/mail/send", `{"to":["a@example.com"],"subject":"Hi","text":"body"}`)
	require.Equal(t, http.StatusOK, code, string(data))
	require.NotNil(t, b.sentOpts)
	assert.Equal(t, []string{"a@example.com"}, b.sentOpts.To)

	b.sentOpts = nil
	code, _ = do(t, s, http.MethodPost, "/mail/send", `{"to":[],"subject":"Hi"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Nil(t, b.sentOpts)

	b.sendErr = outbound.ErrNotConfigured
	code, _ = do(t, s, http.MethodPost, "/mail/send", `{"to":["a@example.com"]}`)
	assert.Equal(t, http.StatusPreconditionFailed, code)
}

func TestConfigureSMTPValidation(t *testing.T) {
	s := newTestServer(&fakeBackend{}, "")

	code, _ := do(t, s, http.MethodPost, "/mail/smtp", `{"host":"smtp.example.com","port":587,"auth":{"user":"u","pass":"p"},"from":"not an address"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/mail/smtp", `{"host":"smtp.example.com","port":587,"auth":{"user":"u","pass":"p"}}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestFolders(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, _ := do(t, s, http.MethodGet, "/imap/folders", "")
	assert.Equal(t, http.StatusConflict, code)

	b.connected = true
	code, data := do(t, s, http.MethodGet, "/imap/folders", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"folders":["INBOX","[Gmail]/Sent Mail"]}`, string(data))

	code, data = do(t, s, http.MethodGet, "/imap/folders/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"INBOX":12,"Sent":3}`, string(data))
}

func TestBearerToken(t *testing.T) {
	s := newTestServer(&fakeBackend{}, "s3cret")

	code, _ := do(t, s, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewMailEventStream(t *testing.T) {
	b := &fakeBackend{events: []model.NewMailEvent{{
		NewEmailCount: 2,
		TotalEmails:   10,
		Timestamp:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}}}
	s := newTestServer(b, "")

	req := httptest.NewRequest(http.MethodGet, "/events/new-mail", nil)
	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event: new-mail\n")
	assert.Contains(t, string(data), `"newEmailCount":2`)
	assert.Contains(t, string(data), `"totalEmails":10`)
}

func TestShutdownEndsEventStreams(t *testing.T) {
	b := &fakeBackend{
		events:     []model.NewMailEvent{{NewEmailCount: 1, TotalEmails: 4}},
		streamOpen: true,
	}
	s := newTestServer(b, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)

	req := httptest.NewRequest(http.MethodGet, "/events/new-mail", nil)
	resp, err := s.App().Test(req, 2000)
	require.NoError(t, err, "stream must end once the bridge shuts down")
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), ": connected")
}

func TestWritesRequireJSONContentType(t *testing.T) {
	routes := []struct {
		target string
		body   string
	}{
		{"/mail/send", `{"to":["a@example.com"],"subject":"hi","text":"x"}`},
		{"/imap/messages/5/move", `{"target":"Trash"}`},
		{"/mail/smtp", `{"host":"h","port":587,"auth":{"user":"u","pass":"p"}}`},
		{"/imap/connect", `{"host":"h","port":993,"auth":{"user":"u","pass":"p"}}`},
	}

	for _, rt := range routes {
		t.Run(rt.target, func(t *testing.T) {
			b := &fakeBackend{connected: true}
			s := newTestServer(b, "")

			req := httptest.NewRequest(http.MethodPost, rt.target, strings.NewReader(rt.body))
			req.Header.Set("Content-Type", "text/plain")
			resp, err := s.App().Test(req, 5000)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
			assert.Nil(t, b.sentOpts)
			assert.Empty(t, b.moveTarget)
			assert.Nil(t, b.connectCfg)
		})
	}
}

func TestForeignOriginRejected(t *testing.T) {
	b := &fakeBackend{connected: true}
	s := NewServer(b, model.BridgeConfig{
		RequestTimeoutSec: 5,
		AllowedOrigins:    []string{"app://mailsync"},
	}, zerolog.Nop())

	send := func(origin string) int {
		req := httptest.NewRequest(http.MethodPost, "/imap/messages/5/move", strings.NewReader(`{"target":"Trash"}`))
		req.Header.Set("Content-Type", "application/json")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := s.App().Test(req, 5000)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, send("https://evil.example"))
	assert.Empty(t, b.moveTarget)

	assert.Equal(t, http.StatusOK, send("app://mailsync"))
	assert.Equal(t, http.StatusOK, send(""))
	assert.Equal(t, "Trash", b.moveTarget)
}

func TestNotificationsAndSettings(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, data := do(t, s, http.MethodGet, "/notifications?unread=true", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(data), `"id":"n1"`)

	code, _ = do(t, s, http.MethodPost, "/notifications/n1/read", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, s, http.MethodPost, "/notifications/read", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, []string{"n1", ""}, b.marked)

	code, _ = do(t, s, http.MethodPost, "/notifications/missing/read", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodPut, "/settings", `{"imap":{"host":"imap.example.com","port":993,"secure":true,"user":"me"}}`)
	require.Equal(t, http.StatusNoContent, code)

	code, data = do(t, s, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, code)
	var got model.Settings
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "imap.example.com", got.IMAP.Host)
}

func TestRequestValuesOutliveHandler(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, _ := do(t, s, http.MethodGet, "/imap/messages?folder=Archive", "")
	require.Equal(t, http.StatusOK, code)
	kept := b.listFolder

	do(t, s, http.MethodGet, "/imap/messages/7?folder=Zzzzzzz", "")
	do(t, s, http.MethodPost, "/notifications/zz/read", "")

	assert.Equal(t, "Archive", kept)
}

func TestTriggerPoll(t *testing.T) {
	b := &fakeBackend{}
	s := newTestServer(b, "")

	code, _ := do(t, s, http.MethodPost, "/imap/poll", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, b.triggered)
}
