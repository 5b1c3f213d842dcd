package generator

import (
	"context"
	"math/rand"
	"time"
)

const mockReply = "New message from llm"

// Mock simulates a slow language model: it sleeps a uniform random duration
// between MinDelay and MaxDelay and returns a canned reply.
type Mock struct {
	minDelay time.Duration
	maxDelay time.Duration
}

func NewMock(minDelay, maxDelay time.Duration) *Mock {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Mock{minDelay: minDelay, maxDelay: maxDelay}
}

var _ Generator = (*Mock)(nil)

func (m *Mock) Reply(ctx context.Context, history []Message) (string, error) {
	delay := m.minDelay
	if span := m.maxDelay - m.minDelay; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return mockReply, nil
}
