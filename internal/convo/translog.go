package convo

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ConversationLogEvent is one line of a per-session NDJSON transcript.
type ConversationLogEvent struct {
	UserID     string    `json:"userId"`
	SessionID  string    `json:"sessionId"`
	Channel    string    `json:"channel"`
	Direction  string    `json:"direction"`
	EventType  string    `json:"eventType"`
	ContentRaw string    `json:"contentRaw"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptLogConfig controls the transcript logger.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptLogger writes one NDJSON file per (userId, sessionId) pair,
// queued through a bounded channel and drained by a single background
// writer so logging never blocks the conversation turn that produced the
// event.
type TranscriptLogger struct {
	cfg    TranscriptLogConfig
	logger *slog.Logger

	queue chan ConversationLogEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewTranscriptLogger constructs and starts a TranscriptLogger. If
// cfg.Enabled is false, Log becomes a no-op and no files are written.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	t := &TranscriptLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		t.wg.Add(1)
		go t.run()
	}

	return t, nil
}

// Log enqueues event for asynchronous writing. If the queue is full the
// event is dropped and a warning is logged, rather than blocking the
// caller's conversation turn.
func (t *TranscriptLogger) Log(event ConversationLogEvent) {
	if !t.cfg.Enabled {
		return
	}
	event.Timestamp = time.Now()
	event.Content = cleanForReadability(event.ContentRaw)

	select {
	case t.queue <- event:
	default:
		t.logger.Warn("conversation log queue full, dropping event", "session_id", event.SessionID)
	}
}

// Close drains the queue and stops the background writer.
func (t *TranscriptLogger) Close() error {
	if !t.cfg.Enabled {
		return nil
	}
	close(t.done)
	t.wg.Wait()
	return nil
}

func (t *TranscriptLogger) run() {
	defer t.wg.Done()
	for {
		select {
		case event := <-t.queue:
			t.write(event)
		case <-t.done:
			for {
				select {
				case event := <-t.queue:
					t.write(event)
				default:
					return
				}
			}
		}
	}
}

func (t *TranscriptLogger) write(event ConversationLogEvent) {
	userDir := filepath.Join(t.cfg.Dir, sanitizePathSegment(event.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.logger.Error("conversation log mkdir failed", "error", err)
		return
	}
	path := filepath.Join(userDir, sanitizePathSegment(event.SessionID)+".ndjson")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.logger.Error("conversation log open failed", "error", err, "path", path)
		return
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		t.logger.Error("conversation log marshal failed", "error", err)
		return
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.logger.Error("conversation log write failed", "error", err, "path", path)
	}
}

var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// cleanForReadability strips ANSI escape sequences so the human-facing
// "content" field stays legible when a tool result embeds terminal color
// codes.
func cleanForReadability(raw string) string {
	return ansiEscapePattern.ReplaceAllString(raw, "")
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizePathSegment(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafePathChars.ReplaceAllString(s, "_")
}
