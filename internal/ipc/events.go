package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// newMailEvents streams new-mail events as server-sent events until the
// client goes away, the service shuts down or the bridge stops.
func (s *Server) newMailEvents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events, unsubscribe := s.backend.Subscribe()
	heartbeat := s.heartbeat
	closing := s.closing
	log := s.log

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Error().Err(err).Msg("Encoding new-mail event")
					continue
				}
				fmt.Fprintf(w, "event: new-mail\ndata: %s\n\n", data)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			case <-closing:
				return
			}
			if err := w.Flush(); err != nil {
				log.Debug().Err(err).Msg("Event stream closed by client")
				return
			}
		}
	}))

	return nil
}
