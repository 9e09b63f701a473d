package logging

import (
	"bytes"
	"regexp"
	gosync "sync"

	"github.com/rs/zerolog"
)

var loginLine = regexp.MustCompile(`(?i)^(\S+\s+LOGIN\s+)(.*)$`)

// TraceWriter turns raw IMAP traffic into trace-level log lines. Credentials
// in LOGIN commands are replaced before anything is logged.
type TraceWriter struct {
	log zerolog.Logger

	mu  gosync.Mutex
	buf bytes.Buffer
}

// NewTraceWriter returns a writer suitable for imapclient.Options.DebugWriter.
func NewTraceWriter(log zerolog.Logger) *TraceWriter {
	return &TraceWriter{log: log.With().Str("component", "imap-trace").Logger()}
}

func (w *TraceWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Partial line; keep it for the next write.
			rest := append([]byte(nil), line...)
			w.buf.Reset()
			w.buf.Write(rest)
			break
		}
		w.log.Trace().Msg(RedactLogin(string(bytes.TrimRight(line, "\r\n"))))
	}
	return len(p), nil
}

// RedactLogin hides the arguments of an IMAP LOGIN command line.
func RedactLogin(line string) string {
	return loginLine.ReplaceAllString(line, "${1}[redacted]")
}

