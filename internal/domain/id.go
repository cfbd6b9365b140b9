// Package domain id.go contains functions to generate, parse, and validate IDs
package domain

import (
	"github.com/google/uuid"
)

// StoryID is the canonical identifier for a stored story.
// It is a random (version 4) UUID in its 36 character lowercase text form.
type StoryID string

// NewID generates a new random StoryID.
func NewID() (StoryID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return StoryID(u.String()), nil
}

// ParseID validates s and returns it as a StoryID. Only the canonical
// hyphenated lowercase form is accepted, which excludes separators, dots and
// any other character that could change the meaning of a filesystem path.
// Returns ErrInvalidID on failure.
func ParseID(s string) (StoryID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return StoryID(s), nil
}

// String returns the string form of the StoryID.
func (id StoryID) String() string { return string(id) }

// Valid reports whether the ID satisfies the same rules as ParseID.
func (id StoryID) Valid() bool { return isValidID(string(id)) }

func isValidID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	// uuid.Parse also accepts uppercase; filenames are always lowercase.
	return u.String() == s
}
