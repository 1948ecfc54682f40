// Package llm defines the generation-engine abstraction used by the relay.
package llm

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest is the input for a streaming chat call.
type ChatRequest struct {
	// Model overrides the provider default when non-empty.
	Model    string
	Messages []Message
}

// ModelMeta describes the model / provider identity.
type ModelMeta struct {
	ID       string // e.g. "chain", "llama3.2:3b"
	Provider string // e.g. "ollama"
	BaseURL  string
}
