// Package verse identifies recitation segments and the chapters they belong
// to, and knows how to locate a reciter's audio for each of them.
package verse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned when a verse reference cannot be parsed.
var ErrInvalidKey = errors.New("invalid verse key")

// Key identifies a single ayah as chapter and verse, both 1-based.
type Key struct {
	Chapter int
	Verse   int
}

// String renders the key in the conventional "2:255" form.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Chapter, k.Verse)
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Chapter == 0 && k.Verse == 0
}

// WithVerse returns a key in the same chapter pointing at verse v.
func (k Key) WithVerse(v int) Key {
	return Key{Chapter: k.Chapter, Verse: v}
}

// ParseKey parses "2:255". A bare chapter ("36") refers to its first verse.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	chapter, ayah, found := strings.Cut(s, ":")
	if !found {
		ayah = "1"
	}

	c, err := strconv.Atoi(chapter)
	if err != nil || c < 1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	v, err := strconv.Atoi(ayah)
	if err != nil || v < 1 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	return Key{Chapter: c, Verse: v}, nil
}

// ParseSpan parses a verse reference that may name a span within one
// chapter, such as "2:255-257". A single key yields a span of one.
func ParseSpan(s string) (from, to Key, err error) {
	head, tail, found := strings.Cut(strings.TrimSpace(s), "-")
	from, err = ParseKey(head)
	if err != nil {
		return Key{}, Key{}, err
	}
	if !found {
		return from, from, nil
	}

	end, err := strconv.Atoi(strings.TrimSpace(tail))
	if err != nil || end < from.Verse {
		return Key{}, Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	return from, from.WithVerse(end), nil
}
