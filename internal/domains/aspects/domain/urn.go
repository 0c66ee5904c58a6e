package domain

import (
	"errors"
	"fmt"
	"strings"
)

const urnPrefix = "urn:li:"

// ErrInvalidUrn is returned when an entity urn cannot be parsed or built.
var ErrInvalidUrn = errors.New("invalid entity urn")

// EntityUrn identifies a catalog entity by its type and a type-specific key.
type EntityUrn struct {
	EntityType string
	Key        string
}

// NewEntityUrn validates both components and builds an urn.
func NewEntityUrn(entityType, key string) (EntityUrn, error) {
	entityType = strings.TrimSpace(entityType)
	key = strings.TrimSpace(key)
	if entityType == "" || key == "" {
		return EntityUrn{}, fmt.Errorf("%w: entity type and key are required", ErrInvalidUrn)
	}
	if strings.ContainsAny(entityType, ": \t\n") {
		return EntityUrn{}, fmt.Errorf("%w: entity type %q contains reserved characters", ErrInvalidUrn, entityType)
	}
	return EntityUrn{EntityType: entityType, Key: key}, nil
}

// ParseEntityUrn accepts "<type>:<key>" and the long "urn:li:<type>:<key>" form.
// The key may itself contain colons.
func ParseEntityUrn(raw string) (EntityUrn, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, urnPrefix)
	entityType, key, ok := strings.Cut(raw, ":")
	if !ok {
		return EntityUrn{}, fmt.Errorf("%w: %q", ErrInvalidUrn, raw)
	}
	return NewEntityUrn(entityType, key)
}

// MustParseEntityUrn panics on invalid input. Intended for constants and tests.
func MustParseEntityUrn(raw string) EntityUrn {
	urn, err := ParseEntityUrn(raw)
	if err != nil {
		panic(err)
	}
	return urn
}

// String renders the short form used as partition key and storage key.
func (u EntityUrn) String() string {
	if u.IsZero() {
		return ""
	}
	return u.EntityType + ":" + u.Key
}

// IsZero reports whether the urn was never assigned.
func (u EntityUrn) IsZero() bool {
	return u.EntityType == "" && u.Key == ""
}

// MarshalText implements encoding.TextMarshaler so urns travel as plain strings.
func (u EntityUrn) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *EntityUrn) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = EntityUrn{}
		return nil
	}
	parsed, err := ParseEntityUrn(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
