package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

const defaultFolder = "INBOX"

// decodeStrict decodes the JSON request body into v, rejecting unknown
// fields and trailing data. Other content types get 415 so that browsers
// must preflight cross-origin writes.
func decodeStrict(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return badRequest(errors.New("request body is required"))
	}
	if !c.Is("json") {
		return fiber.NewError(fiber.StatusUnsupportedMediaType, "Content-Type must be application/json")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	if dec.More() {
		return badRequest(errors.New("invalid request body: trailing data"))
	}
	return nil
}

func uidParam(c *fiber.Ctx) (uint32, error) {
	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil || uid == 0 {
		return 0, badRequest(fmt.Errorf("invalid uid %q", c.Params("uid")))
	}
	return uint32(uid), nil
}

func folderQuery(c *fiber.Ctx) string {
	if f := strings.TrimSpace(c.Query("folder")); f != "" {
		return f
	}
	return defaultFolder
}

// intQuery parses an optional integer query parameter.
func intQuery(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(fmt.Errorf("invalid %s %q", key, raw))
	}
	return n, nil
}

func (s *Server) status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected":      s.backend.IsConnected(),
		"smtpConfigured": s.backend.SMTPConfigured(),
	})
}

// === IMAP ===

func (s *Server) connect(c *fiber.Ctx) error {
	var cfg model.ImapConfig
	if err := decodeStrict(c, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return badRequest(err)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) disconnect(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	return c.JSON(s.backend.Disconnect(ctx))
}

func (s *Server) listFolders(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	folders, err := s.backend.ListFolders(ctx)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"folders": folders})
}

func (s *Server) folderStats(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	stats, err := s.backend.FolderStats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	limit, err := intQuery(c, "limit", defaultListLimit)
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.ListMessages(ctx, folderQuery(c), model.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) getMessage(c *fiber.Ctx) error {
	uid, err := uidParam(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	msg, err := s.backend.GetMessage(ctx, folderQuery(c), uid)
	if err != nil {
		return err
	}
	return c.JSON(msg)
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	uid, err := uidParam(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.DeleteMessage(ctx, folderQuery(c), uid)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

type moveRequest struct {
	Folder string `json:"folder"`
	Target string `json:"target"`
}

func (s *Server) moveMessage(c *fiber.Ctx) error {
	uid, err := uidParam(c)
	if err != nil {
		return err
	}

	var req moveRequest
	if err := decodeStrict(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Target) == "" {
		return badRequest(errors.New("target is required"))
	}
	source := strings.TrimSpace(req.Folder)
	if source == "" {
		source = folderQuery(c)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.MoveMessage(ctx, source, uid, req.Target)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) triggerPoll(c *fiber.Ctx) error {
	s.backend.TriggerPoll()
	return c.SendStatus(fiber.StatusAccepted)
}

// === SMTP ===

func (s *Server) configureSMTP(c *fiber.Ctx) error {
	var cfg model.SmtpConfig
	if err := decodeStrict(c, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return badRequest(err)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.ConfigureSMTP(ctx, cfg)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) sendMail(c *fiber.Ctx) error {
	var opts model.MailOptions
	if err := decodeStrict(c, &opts); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return badRequest(err)
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	res, err := s.backend.SendMail(ctx, opts)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// === Notifications & settings ===

func (s *Server) listNotifications(c *fiber.Ctx) error {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	list, err := s.backend.Notifications(ctx, store.NotificationFilter{
		UnreadOnly: c.QueryBool("unread", false),
		Folder:     c.Query("folder"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"notifications": list})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.backend.MarkNotificationRead(ctx, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) markAllRead(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.backend.MarkNotificationRead(ctx, ""); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) getSettings(c *fiber.Ctx) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	settings, err := s.backend.Settings(ctx)
	if err != nil {
		return err
	}
	return c.JSON(settings)
}

func (s *Server) saveSettings(c *fiber.Ctx) error {
	var settings model.Settings
	if err := decodeStrict(c, &settings); err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.backend.SaveSettings(ctx, settings); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
