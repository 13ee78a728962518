package protocol

import "fmt"

// NotFoundError represents a failed lookup of a story event, handler, player,
// persona, message or job. It enables typed error discrimination via errors.As.
type NotFoundError struct {
	Kind string // "event", "handler", "player", "persona", "message", "job"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a *NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
