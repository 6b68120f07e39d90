package store

import "time"

type Utterance struct {
	ID         string
	SessionKey string
	UserID     *string
	Text       string
	CreatedAt  time.Time
}

// GraphVersion is the immutable numbering record for one merged state.
// version starts at 1 and is unique per session key.
type GraphVersion struct {
	ID         string
	SessionKey string
	Version    int
	CreatedAt  time.Time
}

type GraphSnapshot struct {
	ID             string
	GraphVersionID string
	GraphState     []byte
	CreatedAt      time.Time
}
