// Package llm defines the minimal LLM calling surface the ReActDriver
// depends on. No wire protocol lives here by design — the transport
// binding a real deployment would use is an external concern, not part
// of this execution core — only the interface and a StubClient for
// tests.
package llm

import (
	"context"
	"time"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Response is what a Client returns for one completion call.
type Response struct {
	Text       string
	TokensUsed int
	CostUSD    float64
}

// Client is the closed interface the driver requires of any model
// backend.
type Client interface {
	// Complete issues one completion call, honoring ctx's deadline for
	// cooperative cancellation of the in-flight call.
	Complete(ctx context.Context, messages []Message, model string, temperature float64) (Response, error)
}

// StubClient is a scripted Client for tests and the demo CLI: it returns
// the next response in Responses on each call, repeating the last one
// once exhausted.
type StubClient struct {
	Responses []Response
	Delay     time.Duration
	calls     int
}

// NewStubClient builds a StubClient that returns responses in order.
func NewStubClient(responses ...Response) *StubClient {
	return &StubClient{Responses: responses}
}

func (s *StubClient) Complete(ctx context.Context, messages []Message, model string, temperature float64) (Response, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
	idx := s.calls
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.calls++
	if idx < 0 {
		return Response{}, nil
	}
	return s.Responses[idx], nil
}

// Calls reports how many times Complete has been invoked.
func (s *StubClient) Calls() int { return s.calls }
