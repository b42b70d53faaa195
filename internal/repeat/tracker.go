package repeat

import (
	"sync"

	"github.com/tilawa/recite/internal/verse"
)

// State is the remaining repeat budget of the active verse.
type State struct {
	VersesRepeatsLeft int `json:"verses_repeats_left"`
	PlaysLeft         int `json:"plays_left"`
}

// Tracker holds the repeat counters for one reading surface. Both counters
// are reseeded whenever the active verse or the configuration changes and
// never drop below zero.
type Tracker struct {
	mu     sync.RWMutex
	cfg    Config
	verse  verse.Key
	state  State
	active bool
}

// NewTracker returns a tracker using the default configuration.
func NewTracker() *Tracker {
	return &Tracker{cfg: DefaultConfig()}
}

// Reset installs cfg and seeds both counters for k.
func (t *Tracker) Reset(cfg Config, k verse.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.verse = k
	t.active = true
	t.seed(cfg)
}

// Reconfigure installs cfg and reseeds the counters of the current verse,
// if there is one.
func (t *Tracker) Reconfigure(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		t.cfg = cfg
		return
	}
	t.seed(cfg)
}

// seed must be called with the lock held.
func (t *Tracker) seed(cfg Config) {
	t.cfg = cfg
	t.state = State{
		VersesRepeatsLeft: cfg.verseRepeats(),
		PlaysLeft:         cfg.PlayCount,
	}
}

// MoveTo switches to k inside an ongoing pass: the verse counter is
// reseeded while the remaining passes carry over.
func (t *Tracker) MoveTo(k verse.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.verse = k
	t.active = true
	t.state.VersesRepeatsLeft = t.cfg.verseRepeats()
}

// DecrementVerse consumes one verse repeat and returns what is left.
func (t *Tracker) DecrementVerse() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.VersesRepeatsLeft > 0 {
		t.state.VersesRepeatsLeft--
	}
	return t.state.VersesRepeatsLeft
}

// DecrementPlay consumes one pass and returns what is left. Infinite
// configurations never run out.
func (t *Tracker) DecrementPlay() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.Infinite() {
		return t.state.PlaysLeft
	}
	if t.state.PlaysLeft > 0 {
		t.state.PlaysLeft--
	}
	return t.state.PlaysLeft
}

// Clear forgets the active verse and zeroes the counters.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.verse = verse.Key{}
	t.active = false
	t.state = State{}
}

// State returns a copy of the counters.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Config returns the active configuration.
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// Verse returns the verse the counters belong to.
func (t *Tracker) Verse() (verse.Key, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verse, t.active
}
