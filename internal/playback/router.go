// Package playback decides what happens when a recited segment finishes:
// replay it, move through a verse range, restart the chapter, advance to
// the next verse or stop.
package playback

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tilawa/recite/internal/metrics"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/verse"
)

// Options wires a Router to its collaborators. Transport, Listing,
// Scheduler and URLFor are required.
type Options struct {
	Transport Transport
	Listing   Listing
	Scheduler Scheduler
	URLFor    URLFunc

	// Tracker defaults to a fresh tracker.
	Tracker *repeat.Tracker

	// Cache supplies already-fetched handles to Load.
	Cache Lookup

	// Restart handles chapter repeats. Without it chapter mode behaves
	// like plain advancing.
	Restart RestartFunc

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Router applies the repeat configuration each time a segment ends.
// A Router is not safe for concurrent use: the owner must deliver
// segment-ended signals, scheduled callbacks and commands from a single
// goroutine.
type Router struct {
	transport Transport
	listing   Listing
	sched     Scheduler
	urlFor    URLFunc
	cache     Lookup
	restart   RestartFunc
	tracker   *repeat.Tracker
	log       *log.Logger
	metrics   *metrics.Metrics

	sm      *stateMachine
	current verse.Key
	pending Timer
	gen     uint64
	lastErr error

	onStateChange func(State)
	onVerseChange func(verse.Key)
	onError       func(error)
}

// NewRouter creates a stopped router.
func NewRouter(opts Options) (*Router, error) {
	if opts.Transport == nil || opts.Listing == nil || opts.Scheduler == nil || opts.URLFor == nil {
		return nil, errors.New("router requires a transport, listing, scheduler and URL function")
	}
	if opts.Tracker == nil {
		opts.Tracker = repeat.NewTracker()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	r := &Router{
		transport: opts.Transport,
		listing:   opts.Listing,
		sched:     opts.Scheduler,
		urlFor:    opts.URLFor,
		cache:     opts.Cache,
		restart:   opts.Restart,
		tracker:   opts.Tracker,
		log:       opts.Logger.WithPrefix("router"),
		metrics:   opts.Metrics,
	}
	r.sm = newStateMachine(r.notifyStateChange)
	return r, nil
}

// OnStateChange registers a callback for state changes.
func (r *Router) OnStateChange(fn func(State)) { r.onStateChange = fn }

// OnVerseChange registers a callback invoked when a verse starts playing.
func (r *Router) OnVerseChange(fn func(verse.Key)) { r.onVerseChange = fn }

// OnError registers a callback for surfaced transport errors.
func (r *Router) OnError(fn func(error)) { r.onError = fn }

// State returns the current state.
func (r *Router) State() State { return r.sm.current }

// Current returns the active verse.
func (r *Router) Current() (verse.Key, bool) {
	return r.current, !r.current.IsZero()
}

// RuntimeState returns the remaining repeat counters.
func (r *Router) RuntimeState() repeat.State { return r.tracker.State() }

// Config returns the active repeat configuration.
func (r *Router) Config() repeat.Config { return r.tracker.Config() }

// LastError returns the error that put the router in StateFailed.
func (r *Router) LastError() error { return r.lastErr }

// Play starts k from the beginning with freshly seeded counters.
func (r *Router) Play(k verse.Key) error {
	r.cancelPending()
	r.tracker.Reset(r.tracker.Config(), k)
	r.sm.transition(StateAdvancing)
	return r.load(k)
}

// Jump moves to k inside the current pass, keeping the remaining passes.
func (r *Router) Jump(k verse.Key) error {
	r.cancelPending()
	r.tracker.MoveTo(k)
	r.sm.transition(StateAdvancing)
	return r.load(k)
}

// SetConfig installs a new repeat configuration. Any pending replay is
// cancelled before the counters are reseeded; if the segment had already
// ended, the completion decision is taken again under the new settings.
func (r *Router) SetConfig(cfg repeat.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	awaiting := r.sm.current == StateAwaitingDelay
	r.cancelPending()
	r.tracker.Reconfigure(cfg)
	r.log.Debug("repeat configuration changed", "mode", cfg.Mode, "range", fmt.Sprintf("%d-%d", cfg.RangeStart, cfg.RangeEnd), "each", cfg.RepeatEach, "plays", cfg.PlayCount)

	if awaiting {
		r.sm.transition(StateIdle)
		return r.OnSegmentEnded()
	}
	return nil
}

// Stop halts playback and forgets the active verse.
func (r *Router) Stop() error {
	r.cancelPending()
	var err error
	if !r.current.IsZero() && r.sm.current != StateStopped {
		if perr := r.transport.Pause(); perr != nil {
			err = &TransportError{Op: "pause", Verse: r.current, Err: perr}
		}
	}
	r.tracker.Clear()
	r.sm.transition(StateStopped)
	return err
}

// Retry reloads the current verse after a transport failure.
func (r *Router) Retry() error {
	if r.sm.current != StateFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, r.sm.current)
	}
	if r.current.IsZero() {
		return ErrNoVerse
	}
	r.lastErr = nil
	r.sm.transition(StateAdvancing)
	return r.load(r.current)
}

// TransportFailed reports an error the transport raised on its own while
// playing the current verse.
func (r *Router) TransportFailed(err error) error {
	r.cancelPending()
	return r.fail("playback", err)
}

// Close cancels any pending replay.
func (r *Router) Close() {
	r.cancelPending()
}

// OnSegmentEnded takes exactly one completion decision for the segment
// that just finished.
func (r *Router) OnSegmentEnded() error {
	if r.sm.current != StateIdle {
		r.log.Debug("ended signal ignored", "state", r.sm.current, "verse", r.current)
		return nil
	}

	cfg := r.tracker.Config()
	st := r.tracker.State()
	ayah := r.current.Verse

	switch {
	case cfg.SingleVerse(ayah) && st.VersesRepeatsLeft > 0:
		left := r.tracker.DecrementVerse()
		r.log.Debug("repeating verse", "verse", r.current, "left", left)
		r.scheduleReplay(cfg.Delay)
		return nil

	case cfg.Mode == repeat.ModeRange && cfg.InRange(ayah):
		return r.rangeRepeat(cfg, st)

	case cfg.Mode == repeat.ModeSurah && r.restart != nil && r.listing.IsLastInChapter(r.current):
		return r.restartChapter()
	}

	return r.advance()
}

func (r *Router) rangeRepeat(cfg repeat.Config, st repeat.State) error {
	if st.VersesRepeatsLeft > 0 {
		left := r.tracker.DecrementVerse()
		r.log.Debug("repeating verse in range", "verse", r.current, "left", left)
		r.scheduleReplay(cfg.Delay)
		return nil
	}

	if r.current.Verse < cfg.RangeEnd {
		r.metrics.Completion("advance")
		return r.Jump(r.current.WithVerse(r.current.Verse + 1))
	}

	if plays := r.tracker.DecrementPlay(); plays > 0 {
		r.log.Debug("range pass complete", "plays_left", plays)
		r.metrics.Completion("advance")
		return r.Jump(r.current.WithVerse(cfg.RangeStart))
	}

	// The range bound ends the listing: nothing follows the last pass.
	r.stop("range complete")
	return nil
}

func (r *Router) restartChapter() error {
	r.sm.transition(StateAdvancing)
	r.metrics.Completion("restart")
	r.log.Debug("chapter finished, restarting", "verse", r.current)

	if err := r.restart(r.current); err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return err
		}
		return r.fail("restart", err)
	}
	if r.sm.current == StateAdvancing {
		r.sm.transition(StateIdle)
	}
	return nil
}

func (r *Router) advance() error {
	next, ok := r.listing.Next(r.current)
	if !ok {
		r.stop("end of listing")
		return nil
	}

	r.metrics.Completion("advance")
	r.sm.transition(StateAdvancing)
	// Advancing stays within the current pass: only the verse counter is
	// reseeded, so chapter repeats can count their passes.
	r.tracker.MoveTo(next)
	return r.load(next)
}

func (r *Router) stop(reason string) {
	r.cancelPending()
	r.log.Info("playback finished", "verse", r.current, "reason", reason)
	r.metrics.Completion("stop")
	r.tracker.Clear()
	r.sm.transition(StateStopped)
}

// load hands k to the transport and starts it.
func (r *Router) load(k verse.Key) error {
	r.current = k
	url := r.urlFor(k)

	src := Source{Verse: k, URL: url}
	if r.cache != nil {
		src.Handle = r.cache.GetCached(url)
	}

	if err := r.transport.Load(src); err != nil {
		return r.fail("load", err)
	}
	if err := r.transport.Play(); err != nil {
		return r.fail("play", err)
	}

	r.log.Debug("playing", "verse", k, "cached", src.Handle != nil)
	r.sm.transition(StateIdle)
	if r.onVerseChange != nil {
		r.onVerseChange(k)
	}
	return nil
}

func (r *Router) scheduleReplay(d time.Duration) {
	r.cancelPending()
	gen := r.gen
	scheduled := r.current

	r.sm.transition(StateAwaitingDelay)
	r.pending = r.sched.Schedule(d, func() {
		r.fireReplay(gen, scheduled)
	})
}

func (r *Router) fireReplay(gen uint64, scheduled verse.Key) {
	if gen != r.gen || scheduled != r.current || r.sm.current != StateAwaitingDelay {
		err := &StaleStateError{Scheduled: scheduled, Current: r.current}
		r.metrics.StaleCallback()
		r.log.Debug("discarding replay", "err", err)
		return
	}
	r.pending = nil

	r.sm.transition(StateReplaying)
	if err := r.transport.Seek(0); err != nil {
		r.fail("seek", err)
		return
	}
	if err := r.transport.Play(); err != nil {
		r.fail("play", err)
		return
	}

	r.metrics.Completion("replay")
	r.sm.transition(StateIdle)
}

// cancelPending stops a scheduled replay and invalidates its callback.
func (r *Router) cancelPending() {
	r.gen++
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *Router) fail(op string, err error) error {
	te := &TransportError{Op: op, Verse: r.current, Err: err}
	r.lastErr = te
	r.metrics.TransportError()
	r.log.Error("transport failed", "op", op, "verse", r.current, "err", err)
	r.sm.transition(StateFailed)
	if r.onError != nil {
		r.onError(te)
	}
	return te
}

func (r *Router) notifyStateChange(s State) {
	if r.onStateChange != nil {
		r.onStateChange(s)
	}
}
