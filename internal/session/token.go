package session

import (
	"strings"

	"github.com/google/uuid"
)

// TokenGenerator produces single-use sync tokens.
type TokenGenerator interface {
	Generate() string
}

// RandomTokens generates random version 4 UUIDs with the hyphens removed,
// so a token is 32 hex digits and carries no regexp metacharacters.
//
// Thread-safety: RandomTokens is stateless and safe for concurrent use.
type RandomTokens struct{}

// Generate returns a new token.
func (RandomTokens) Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// marker wraps a token in the delimiter the debugger is asked to print.
func marker(token string) string {
	return "---ATH" + token + "---"
}
