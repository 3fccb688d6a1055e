package domain

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a room's timeline. Identity is the ID; an
// upsert with a known ID rewrites the entry in place, keeping its
// original position.
type Message struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Role    string `json:"role"`
	Content string `json:"content"`
}
