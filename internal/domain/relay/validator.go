package relay

import (
	"github.com/matiasleandrokruk/velune/internal/domain/conversation"
	"github.com/matiasleandrokruk/velune/pkg/auth"
)

// ChatRequest is the inbound request body.
type ChatRequest struct {
	Model    string                 `json:"model"`
	Messages []conversation.Message `json:"messages"`
	// Stream is accepted for compatibility; the relay always streams.
	Stream *bool `json:"stream,omitempty"`
}

// Detail texts returned to clients.
const (
	detailInvalidToken  = "Invalid or missing token."
	detailEmptyMessages = "messages must contain at least one message."
)

// Validator checks an inbound request before any upstream connection exists.
// It has no side effects.
type Validator struct {
	model  string
	policy auth.TokenPolicy
}

// NewValidator accepts only model and enforces policy.
func NewValidator(model string, policy auth.TokenPolicy) *Validator {
	return &Validator{model: model, policy: policy}
}

// Model returns the single public model identifier.
func (v *Validator) Model() string { return v.model }

// Authorize applies the token rule alone.
func (v *Validator) Authorize(token string) error {
	if !v.policy.Verify(token) {
		return NewError(KindAuth, nil, detailInvalidToken)
	}
	return nil
}

// Validate applies, in order: the token rule, the model rule, the message rules.
func (v *Validator) Validate(req ChatRequest, token string) error {
	if err := v.Authorize(token); err != nil {
		return err
	}
	if req.Model != v.model {
		return NewError(KindValidation, nil, "Invalid model %q. Use '%s'.", req.Model, v.model)
	}
	if len(req.Messages) == 0 {
		return NewError(KindValidation, nil, detailEmptyMessages)
	}
	for i, m := range req.Messages {
		if !m.Role.Valid() {
			return NewError(KindValidation, nil, "messages[%d]: invalid role %q; use 'user' or 'assistant'.", i, m.Role)
		}
	}
	return nil
}
