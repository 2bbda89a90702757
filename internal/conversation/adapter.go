package conversation

import (
	"errors"
	"fmt"

	"github.com/vibelearn/gengate/internal/provider"
)

var ErrInvalidHistory = errors.New("invalid conversation history")

// Turn is one role-tagged message in a stored conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// Adapt maps a stored history into provider contents, preserving input
// order exactly. The order is the dialogue sequence and is never
// reordered or deduplicated.
func Adapt(history []Turn) ([]provider.Content, error) {
	contents := make([]provider.Content, len(history))
	for i, turn := range history {
		if turn.Role != provider.RoleUser && turn.Role != provider.RoleModel {
			return nil, fmt.Errorf("%w: turn %d has role %q", ErrInvalidHistory, i, turn.Role)
		}
		if turn.Content == "" {
			return nil, fmt.Errorf("%w: turn %d has empty content", ErrInvalidHistory, i)
		}
		contents[i] = provider.Content{
			Role:  turn.Role,
			Parts: []provider.Part{{Text: turn.Content}},
		}
	}
	return contents, nil
}
