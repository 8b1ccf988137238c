package boards

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidBoardID indicates that a board identifier is not positive.
	ErrInvalidBoardID = errors.New("boards: invalid board id")
	// ErrInvalidElementID indicates that an element identifier is not positive.
	ErrInvalidElementID = errors.New("boards: invalid element id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("boards: invalid user id")
)

// BoardID represents a validated board identifier.
type BoardID int64

// NewBoardID validates the value and returns a BoardID.
func NewBoardID(value int64) (BoardID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBoardID, value)
	}
	return BoardID(value), nil
}

// Int64 exposes the raw identifier.
func (id BoardID) Int64() int64 {
	return int64(id)
}

// ElementID represents a validated element identifier.
type ElementID int64

// NewElementID validates the value and returns an ElementID.
func NewElementID(value int64) (ElementID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidElementID, value)
	}
	return ElementID(value), nil
}

// Int64 exposes the raw identifier.
func (id ElementID) Int64() int64 {
	return int64(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}
