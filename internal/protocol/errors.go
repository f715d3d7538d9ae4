package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Failure taxonomy. None of these are fatal; handlers turn them into a
// negative response.
var (
	// ErrUnknownEntity indicates a referenced name is not registered or its
	// handle went stale.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownSpawnableType indicates the requested type is not spawnable.
	ErrUnknownSpawnableType = errors.New("unknown spawnable type")
	// ErrNameCollision indicates a spawn reused a registered name.
	ErrNameCollision = errors.New("entity name already exists")
	// ErrUnknownReferenceFrame indicates a non-empty frame that is not a live entity.
	ErrUnknownReferenceFrame = errors.New("unknown reference frame")
	// ErrMissingTarget indicates a delete or attach named an absent entity.
	ErrMissingTarget = errors.New("missing target")
	// ErrInvalidRequest indicates a structurally invalid request.
	ErrInvalidRequest = errors.New("invalid request")
)

// UnknownEntity wraps ErrUnknownEntity with the offending name.
func UnknownEntity(name string) error {
	return fmt.Errorf("%w: %q is not under simulation state control", ErrUnknownEntity, name)
}

// UnknownReferenceFrame wraps ErrUnknownReferenceFrame with the frame name.
func UnknownReferenceFrame(frame string) error {
	return fmt.Errorf("%w: %q", ErrUnknownReferenceFrame, frame)
}

// UnknownSpawnableType wraps ErrUnknownSpawnableType with the type name.
func UnknownSpawnableType(typeName string) error {
	return fmt.Errorf("%w: %q", ErrUnknownSpawnableType, typeName)
}

// NameCollision wraps ErrNameCollision with the name.
func NameCollision(name string) error {
	return fmt.Errorf("%w: %q", ErrNameCollision, name)
}

// MissingTarget wraps ErrMissingTarget with the names involved.
func MissingTarget(names ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingTarget, strings.Join(quoteAll(names), ", "))
}

// StatusMessage renders err for a response's status_message, "" for nil.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}
