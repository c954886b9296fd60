package mock

import (
	"context"
	"sync"

	"github.com/bakkerme/culler/internal/outputs/email"
)

// Sender records messages instead of sending them.
type Sender struct {
	mu       sync.Mutex
	Messages []email.Message
	Err      error
}

func (s *Sender) Send(_ context.Context, message email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Messages = append(s.Messages, message)
	return nil
}

func (s *Sender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]email.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}
