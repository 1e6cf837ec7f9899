package messaging

import (
	"context"
	"sync"
)

// SentText records one call to MockSender.SendText.
type SentText struct {
	Phone string
	Text  string
}

// MockSender records texts instead of delivering them (for tests).
type MockSender struct {
	mu   sync.Mutex
	Sent []SentText
	Err  error
}

// Compile-time check that MockSender implements Sender.
var _ Sender = (*MockSender)(nil)

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) SendText(ctx context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentText{Phone: phone, Text: text})
	return nil
}

// SetErr makes every following SendText fail with err.
func (m *MockSender) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// Messages returns a copy of the recorded texts.
func (m *MockSender) Messages() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.Sent))
	copy(out, m.Sent)
	return out
}
