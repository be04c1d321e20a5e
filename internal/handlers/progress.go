package handlers

import (
	"io"
	"log/slog"
	"sync"
)

type statusEditor interface {
	EditText(chatID int64, messageID int, text string) error
}

type progressTarget struct {
	chatID    int64
	messageID int
	last      string
}

// Progress mirrors a session's status messages into one Telegram message.
// It is handed to the orchestrator as its status hook.
type Progress struct {
	mu      sync.Mutex
	tg      statusEditor
	targets map[string]*progressTarget
	logger  *slog.Logger
}

func NewProgress(tg statusEditor, logger *slog.Logger) *Progress {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Progress{tg: tg, targets: make(map[string]*progressTarget), logger: logger}
}

func (p *Progress) Track(sessionID string, chatID int64, messageID int) {
	p.mu.Lock()
	p.targets[sessionID] = &progressTarget{chatID: chatID, messageID: messageID}
	p.mu.Unlock()
}

func (p *Progress) Forget(sessionID string) {
	p.mu.Lock()
	delete(p.targets, sessionID)
	p.mu.Unlock()
}

// Update edits the tracked message of sessionID. Repeated text is skipped.
func (p *Progress) Update(sessionID, msg string) {
	p.mu.Lock()
	t, ok := p.targets[sessionID]
	if !ok || t.last == msg {
		p.mu.Unlock()
		return
	}
	t.last = msg
	chatID, messageID := t.chatID, t.messageID
	p.mu.Unlock()

	if err := p.tg.EditText(chatID, messageID, "⏳ "+msg); err != nil {
		p.logger.Debug("status edit failed", "session_id", sessionID, "err", err)
	}
}
