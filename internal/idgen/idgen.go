// Package idgen issues identifiers: UUIDv7 for durable rows and short nanoid
// strings for connection ids and shareable codes.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet is the character set used for short identifiers. Ambiguous glyphs
// (0/O, 1/l/I) are left out so codes survive being read aloud.
const Alphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Provider issues string identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type nanoProvider struct {
	prefix string
	length int
}

// NewNanoProvider constructs a Provider that issues prefix followed by length
// random characters from Alphabet.
func NewNanoProvider(prefix string, length int) Provider {
	if length <= 0 {
		length = 10
	}
	return &nanoProvider{prefix: prefix, length: length}
}

func (p *nanoProvider) NewID() (string, error) {
	id, err := nanoid.Generate(Alphabet, p.length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return p.prefix + id, nil
}
