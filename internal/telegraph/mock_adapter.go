package telegraph

import (
	"context"
	"errors"
	"sync"
)

// MockAdapter records what the relay hands it. Tests can make it fail.
type MockAdapter struct {
	mu    sync.Mutex
	up    bool
	shut  bool
	fail  error
	inbox []OutboundMessage
}

// NewMockAdapter returns a disconnected MockAdapter.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shut {
		return errors.New("mock adapter: already closed")
	}
	m.up = true
	return nil
}

func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.up:
		return errors.New("mock adapter: not connected")
	case m.fail != nil:
		return m.fail
	}
	m.inbox = append(m.inbox, msg)
	return nil
}

func (m *MockAdapter) Close() error {
	m.mu.Lock()
	m.shut, m.up = true, false
	m.mu.Unlock()
	return nil
}

// FailWith makes later sends return err.
func (m *MockAdapter) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// LastSent returns the newest recorded message.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return OutboundMessage{}, false
	}
	return m.inbox[len(m.inbox)-1], true
}

// SentCount is the number of recorded messages.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox)
}

// Thread returns the recorded messages carrying key, oldest first.
func (m *MockAdapter) Thread(key string) []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboundMessage
	for _, msg := range m.inbox {
		if msg.ThreadKey == key {
			out = append(out, msg)
		}
	}
	return out
}
