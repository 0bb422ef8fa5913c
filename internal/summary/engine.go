package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/mailroom/internal/models"
)

// DefaultMaxMessages bounds a summary when the caller passes limit <= 0.
const DefaultMaxMessages = 50

// Reader is the slice of the message store the engine needs.
type Reader interface {
	List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]models.Message, error)
	Now() time.Time
}

// Engine renders summaries straight from the store.
type Engine struct {
	store Reader
}

// NewEngine returns an Engine over store.
func NewEngine(store Reader) *Engine {
	return &Engine{store: store}
}

// Unread loads the unread part of agent's newest limit messages.
func (e *Engine) Unread(ctx context.Context, agent string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultMaxMessages
	}
	msgs, err := e.store.List(ctx, agent, false, limit)
	if err != nil {
		return nil, fmt.Errorf("summary: load %s: %w", agent, err)
	}
	var unread []models.Message
	for _, m := range msgs {
		if !m.Read {
			unread = append(unread, m)
		}
	}
	return unread, nil
}

// Summarize renders agent's unread mail in the given mode.
func (e *Engine) Summarize(ctx context.Context, agent string, limit int, mode Mode) (string, error) {
	msgs, err := e.Unread(ctx, agent, limit)
	if err != nil {
		return "", err
	}
	return Render(mode, msgs, e.store.Now()), nil
}

// Analyze returns the structured analysis behind Summarize.
func (e *Engine) Analyze(ctx context.Context, agent string, limit int) (*Analysis, error) {
	msgs, err := e.Unread(ctx, agent, limit)
	if err != nil {
		return nil, err
	}
	return Analyze(msgs, e.store.Now()), nil
}

// DailyDigest renders agent's digest from their newest 200 messages.
func (e *Engine) DailyDigest(ctx context.Context, agent string) (string, error) {
	msgs, err := e.store.List(ctx, agent, false, 200)
	if err != nil {
		return "", fmt.Errorf("summary: load %s: %w", agent, err)
	}
	return DailyDigest(agent, msgs, e.store.Now()), nil
}
