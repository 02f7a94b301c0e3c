// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Model answers every call with Reply (Generate) or Chunks (Stream), or fails with Err.
type Model struct {
	Reply  string
	Chunks []string
	Err    error

	mu    sync.Mutex
	calls [][]*schema.Message
}

var _ model.BaseChatModel = (*Model)(nil)

// Generate implements model.BaseChatModel.
func (m *Model) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

// Stream implements model.BaseChatModel.
func (m *Model) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}

	chunks := make([]*schema.Message, 0, len(m.Chunks))
	for _, c := range m.Chunks {
		chunks = append(chunks, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// Calls returns the message lists the model has received so far.
func (m *Model) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

func (m *Model) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]*schema.Message(nil), input...))
}
