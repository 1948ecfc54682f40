package conversation

import (
	"encoding/json"
	"fmt"
)

// Marshal encodes msgs as a JSON array of {"role","content"} objects.
// A nil slice encodes as [].
func Marshal(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("conversation: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes data produced by Marshal and rejects unknown roles.
func Unmarshal(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("conversation: unmarshal: %w", err)
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("%w %q at index %d", ErrInvalidRole, m.Role, i)
		}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}
