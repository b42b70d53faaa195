package repeat

import (
	"errors"
	"testing"
	"time"

	"github.com/tilawa/recite/internal/verse"
)

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeSingle, ModeRange, ModeSurah} {
		got, err := ParseMode(m.String())
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", m, err)
		}
		if got != m {
			t.Errorf("round trip of %s gave %s", m, got)
		}
	}

	if _, err := ParseMode("shuffle"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"default", DefaultConfig(), ""},
		{"zero repeat", Config{Mode: ModeSingle, PlayCount: 1}, "repeat_each"},
		{"zero plays", Config{Mode: ModeSingle, RepeatEach: 1}, "play_count"},
		{"negative delay", Config{RepeatEach: 1, PlayCount: 1, Delay: -time.Second}, "delay"},
		{"inverted range", Config{Mode: ModeRange, RangeStart: 5, RangeEnd: 3, RepeatEach: 1, PlayCount: 1}, "range_end"},
		{"range from zero", Config{Mode: ModeRange, RangeEnd: 3, RepeatEach: 1, PlayCount: 1}, "range_start"},
		{"single ignores bounds", Config{Mode: ModeSingle, RangeStart: 9, RangeEnd: 1, RepeatEach: 2, PlayCount: 1}, ""},
		{"infinite", Config{Mode: ModeSurah, RepeatEach: 1, PlayCount: InfinitePlays}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("field = %s, want %s", ce.Field, tt.field)
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Error("ConfigError should match ErrInvalidConfig")
			}
		})
	}
}

func TestSingleVerse(t *testing.T) {
	single := Config{Mode: ModeSingle, RangeStart: 1, RangeEnd: 1}
	if !single.SingleVerse(255) {
		t.Error("single mode applies regardless of range bounds")
	}

	collapsed := Config{Mode: ModeRange, RangeStart: 4, RangeEnd: 4}
	if !collapsed.SingleVerse(4) {
		t.Error("collapsed range should repeat its only verse")
	}
	if collapsed.SingleVerse(5) {
		t.Error("collapsed range does not apply outside its bounds")
	}

	wide := Config{Mode: ModeRange, RangeStart: 1, RangeEnd: 3}
	if wide.SingleVerse(2) {
		t.Error("a real range is not a single-verse repeat")
	}
}

func TestTrackerSeeding(t *testing.T) {
	tr := NewTracker()
	k := verse.Key{Chapter: 2, Verse: 255}

	tr.Reset(Config{Mode: ModeSingle, RepeatEach: 3, PlayCount: 2}, k)
	if got := tr.State(); got != (State{VersesRepeatsLeft: 3, PlaysLeft: 2}) {
		t.Errorf("single seed = %+v", got)
	}

	tr.Reset(Config{Mode: ModeRange, RangeStart: 1, RangeEnd: 3, RepeatEach: 3, PlayCount: 2}, k)
	if got := tr.State(); got != (State{VersesRepeatsLeft: 2, PlaysLeft: 2}) {
		t.Errorf("range seed = %+v", got)
	}

	if v, ok := tr.Verse(); !ok || v != k {
		t.Errorf("Verse() = %v, %v", v, ok)
	}
}

func TestTrackerClamp(t *testing.T) {
	tr := NewTracker()
	tr.Reset(Config{Mode: ModeSingle, RepeatEach: 1, PlayCount: 1}, verse.Key{Chapter: 1, Verse: 1})

	if got := tr.DecrementVerse(); got != 0 {
		t.Fatalf("DecrementVerse = %d", got)
	}
	if got := tr.DecrementVerse(); got != 0 {
		t.Errorf("counter went below zero: %d", got)
	}
	tr.DecrementPlay()
	if got := tr.DecrementPlay(); got != 0 {
		t.Errorf("plays went below zero: %d", got)
	}
}

func TestTrackerInfinitePlays(t *testing.T) {
	tr := NewTracker()
	tr.Reset(Config{Mode: ModeRange, RangeStart: 1, RangeEnd: 2, RepeatEach: 1, PlayCount: InfinitePlays}, verse.Key{Chapter: 1, Verse: 1})

	for i := 0; i < 5; i++ {
		if got := tr.DecrementPlay(); got != InfinitePlays {
			t.Fatalf("infinite plays decreased to %d", got)
		}
	}
}

func TestTrackerMoveToKeepsPasses(t *testing.T) {
	tr := NewTracker()
	cfg := Config{Mode: ModeRange, RangeStart: 1, RangeEnd: 3, RepeatEach: 2, PlayCount: 3}
	tr.Reset(cfg, verse.Key{Chapter: 1, Verse: 1})

	tr.DecrementVerse()
	tr.DecrementPlay()
	tr.MoveTo(verse.Key{Chapter: 1, Verse: 2})

	if got := tr.State(); got != (State{VersesRepeatsLeft: 1, PlaysLeft: 2}) {
		t.Errorf("after MoveTo = %+v", got)
	}
}

func TestTrackerReconfigure(t *testing.T) {
	tr := NewTracker()
	cfg := Config{Mode: ModeSingle, RepeatEach: 1, PlayCount: 1}
	tr.Reconfigure(cfg)
	if _, ok := tr.Verse(); ok {
		t.Fatal("reconfiguring an idle tracker should not activate it")
	}
	if tr.Config() != cfg {
		t.Error("configuration not stored")
	}

	tr.Reset(cfg, verse.Key{Chapter: 1, Verse: 1})
	tr.DecrementVerse()
	tr.Reconfigure(Config{Mode: ModeSingle, RepeatEach: 4, PlayCount: 1})
	if got := tr.State().VersesRepeatsLeft; got != 4 {
		t.Errorf("reconfigure should reseed, got %d", got)
	}

	tr.Clear()
	if got := tr.State(); got != (State{}) {
		t.Errorf("Clear left %+v", got)
	}
}
