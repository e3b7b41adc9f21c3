package gen

import "context"

// Message is one prior turn handed to the provider, oldest first.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything a provider may use to compose a reply.
// Round 0 is the opening contact; rounds 1..max are inbound exchanges.
type Request struct {
	Inbound string
	Round   int
	Context map[string]any
	Window  []Message
}

type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}
