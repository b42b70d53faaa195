// Package repeat models how often verses are replayed and tracks the
// remaining repeats of the verse currently being recited.
package repeat

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidConfig is returned for repeat settings that cannot be honored.
var ErrInvalidConfig = errors.New("invalid repeat configuration")

// InfinitePlays makes a range or chapter repeat loop until stopped.
const InfinitePlays = math.MaxInt32

// Mode selects what is repeated once a segment finishes.
type Mode int

const (
	// ModeNone plays through without repeating.
	ModeNone Mode = iota
	// ModeSingle repeats the current verse.
	ModeSingle
	// ModeRange repeats a span of verses within the chapter.
	ModeRange
	// ModeSurah repeats the whole chapter.
	ModeSurah
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSingle:
		return "single"
	case ModeRange:
		return "range"
	case ModeSurah:
		return "surah"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return ModeNone, nil
	case "single", "verse", "ayah":
		return ModeSingle, nil
	case "range":
		return ModeRange, nil
	case "surah", "chapter":
		return ModeSurah, nil
	}
	return ModeNone, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Config is the user's repeat setting. It is treated as a value and
// replaced wholesale when the user edits it.
type Config struct {
	Mode       Mode
	RangeStart int // first ayah of the range, 1-based
	RangeEnd   int // last ayah of the range, inclusive
	RepeatEach int // plays of each verse
	PlayCount  int // passes over the range or chapter, or InfinitePlays
	Delay      time.Duration
}

// DefaultConfig returns a configuration that repeats nothing.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeNone,
		RepeatEach: 1,
		PlayCount:  1,
	}
}

// ConfigError describes which field of a Config was rejected.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration before it reaches playback.
func (c Config) Validate() error {
	if c.Mode < ModeNone || c.Mode > ModeSurah {
		return &ConfigError{Field: "mode", Reason: "is unknown"}
	}
	if c.RepeatEach < 1 {
		return &ConfigError{Field: "repeat_each", Reason: "must be at least 1"}
	}
	if c.PlayCount < 1 {
		return &ConfigError{Field: "play_count", Reason: "must be at least 1"}
	}
	if c.Delay < 0 {
		return &ConfigError{Field: "delay", Reason: "must not be negative"}
	}
	if c.Mode == ModeRange {
		if c.RangeStart < 1 {
			return &ConfigError{Field: "range_start", Reason: "must be at least 1"}
		}
		if c.RangeEnd < c.RangeStart {
			return &ConfigError{Field: "range_end", Reason: "must not precede range_start"}
		}
	}
	return nil
}

// Infinite reports whether passes never run out.
func (c Config) Infinite() bool {
	return c.PlayCount == InfinitePlays
}

// InRange reports whether ayah lies inside the configured range.
func (c Config) InRange(ayah int) bool {
	return ayah >= c.RangeStart && ayah <= c.RangeEnd
}

// SingleVerse reports whether completing ayah should repeat it in place:
// either single mode, or a range collapsed onto that ayah. Single mode
// ignores the range bounds.
func (c Config) SingleVerse(ayah int) bool {
	switch c.Mode {
	case ModeSingle:
		return true
	case ModeRange:
		return c.RangeStart == c.RangeEnd && c.InRange(ayah)
	}
	return false
}

// verseRepeats is the number of replays owed to a verse after its first
// play. Single mode replays RepeatEach more times; a range plays each verse
// RepeatEach times in total.
func (c Config) verseRepeats() int {
	if c.Mode == ModeRange {
		return c.RepeatEach - 1
	}
	return c.RepeatEach
}
