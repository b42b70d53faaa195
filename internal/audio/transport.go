package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/verse"
)

// ErrNotLoaded is returned by controls that need a loaded segment.
var ErrNotLoaded = errors.New("no segment loaded")

// ErrClosed is returned after the transport has been closed.
var ErrClosed = errors.New("transport closed")

// EventType identifies a transport event.
type EventType int

const (
	// EventLoaded fires once a segment is decoded and ready.
	EventLoaded EventType = iota
	// EventEnded fires when playback reaches the end of the segment.
	EventEnded
	// EventError fires when playback fails after it started.
	EventError
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type  EventType
	Verse verse.Key
	Err   error
}

// voice is one playing stream on the output device.
type voice interface {
	Play()
	Pause()
	IsPlaying() bool
	Seek(offset int64, whence int) (int64, error)
	SetVolume(volume float64)
	BufferedSize() int
	Err() error
	Close() error
}

// device creates voices for PCM streams.
type device interface {
	NewVoice(r io.ReadSeeker) voice
}

// Config contains configuration for the transport.
type Config struct {
	SampleRate   int           // 44100 or 48000 Hz only
	Channels     int           // 1 = mono, 2 = stereo
	BufferSize   int           // device buffer in bytes
	Volume       float64       // 0.0 to 1.0
	Rate         float64       // tempo, 0.5 to 2.0
	LoadTimeout  time.Duration // bounds fetching and decoding one segment
	PollInterval time.Duration // how often the end of a segment is checked
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		Channels:     1,
		BufferSize:   4096,
		Volume:       1.0,
		Rate:         1.0,
		LoadTimeout:  30 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

func validateConfig(config Config) error {
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}
	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}
	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	if config.Volume < 0 || config.Volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %.2f", config.Volume)
	}
	if config.Rate < 0.5 || config.Rate > 2 {
		return fmt.Errorf("rate must be between 0.5 and 2.0, got %.2f", config.Rate)
	}
	return nil
}

// Transport plays recitation segments on the audio device. It implements
// playback.Transport and reports the end of each segment on Events.
type Transport struct {
	dev     device
	decoder Decoder
	fetcher prefetch.Fetcher
	cfg     Config
	log     *log.Logger

	mu       sync.Mutex
	voice    voice
	reader   *positionReader
	pcm      []byte // kept alive while the voice reads it
	loaded   verse.Key
	duration time.Duration
	playing  bool
	closed   bool

	events chan Event
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTransport(dev device, decoder Decoder, fetcher prefetch.Fetcher, cfg Config, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}

	base, cancel := context.WithCancel(context.Background())
	t := &Transport{
		dev:     dev,
		decoder: decoder,
		fetcher: fetcher,
		cfg:     cfg,
		log:     logger.WithPrefix("audio"),
		events:  make(chan Event, 8),
		base:    base,
		cancel:  cancel,
	}

	t.wg.Add(1)
	go t.watch()
	return t
}

// Events returns the channel on which segment events are delivered.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Load fetches and decodes the segment described by src. A cached handle
// that covers the whole segment is used as is; otherwise the full segment
// is fetched.
func (t *Transport) Load(src playback.Source) error {
	ctx, cancel := context.WithTimeout(t.base, t.cfg.LoadTimeout)
	defer cancel()

	data, err := t.segmentBytes(ctx, src)
	if err != nil {
		return err
	}

	t.mu.Lock()
	rate := t.cfg.Rate
	t.mu.Unlock()

	pcm, err := t.decoder.Decode(ctx, data, rate)
	if err != nil {
		return fmt.Errorf("decode %s: %w", src.Verse, err)
	}
	pcm = pcm[:len(pcm)-len(pcm)%t.frameSize()]

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.releaseVoice()

	t.pcm = pcm
	t.reader = newPositionReader(pcm)
	t.voice = t.dev.NewVoice(t.reader)
	if t.voice == nil {
		return errors.New("failed to create audio voice")
	}
	t.voice.SetVolume(t.cfg.Volume)
	t.loaded = src.Verse
	t.duration = t.bytesToDuration(int64(len(pcm)))
	t.playing = false

	t.log.Debug("segment loaded", "verse", src.Verse, "duration", t.duration, "cached", src.Handle != nil)
	t.emit(Event{Type: EventLoaded, Verse: src.Verse})
	return nil
}

func (t *Transport) segmentBytes(ctx context.Context, src playback.Source) ([]byte, error) {
	if src.Handle != nil && src.Handle.Complete() {
		if b, err := src.Handle.Bytes(); err == nil {
			return b, nil
		}
	}
	if t.fetcher == nil {
		return nil, fmt.Errorf("%s is not cached and no fetcher is configured", src.URL)
	}

	p, err := t.fetcher.Fetch(ctx, src.URL, 0)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

// Play starts or resumes the loaded segment.
func (t *Transport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.voice == nil {
		return ErrNotLoaded
	}
	t.voice.Play()
	t.playing = true
	return nil
}

// Pause pauses playback.
func (t *Transport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.voice == nil {
		return ErrNotLoaded
	}
	t.voice.Pause()
	t.playing = false
	return nil
}

// Seek moves to pos within the loaded segment.
func (t *Transport) Seek(pos time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.voice == nil {
		return ErrNotLoaded
	}
	if pos < 0 || pos > t.duration {
		return fmt.Errorf("seek to %v outside segment of %v", pos, t.duration)
	}

	offset := t.durationToBytes(pos)
	if _, err := t.voice.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// Position returns the playback position within the loaded segment.
func (t *Transport) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.voice == nil || t.reader == nil {
		return 0
	}
	consumed := t.reader.Position() - int64(t.voice.BufferedSize())
	if consumed < 0 {
		consumed = 0
	}
	return t.bytesToDuration(consumed)
}

// Duration returns the length of the loaded segment.
func (t *Transport) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// IsPlaying reports whether a segment is playing.
func (t *Transport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (t *Transport) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %.2f", volume)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cfg.Volume = volume
	if t.voice != nil {
		t.voice.SetVolume(volume)
	}
	return nil
}

// SetRate sets the tempo used for segments loaded from now on.
func (t *Transport) SetRate(rate float64) error {
	if rate < 0.5 || rate > 2 {
		return fmt.Errorf("rate must be between 0.5 and 2.0, got %.2f", rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.Rate = rate
	return nil
}

// Close stops playback and releases the device voice.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.releaseVoice()
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	close(t.events)
	return nil
}

// watch polls the voice and reports the end of each segment once.
func (t *Transport) watch() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.base.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.playing || t.voice == nil {
				t.mu.Unlock()
				continue
			}
			if err := t.voice.Err(); err != nil {
				t.playing = false
				t.emit(Event{Type: EventError, Verse: t.loaded, Err: err})
			} else if !t.voice.IsPlaying() && t.reader.Remaining() == 0 {
				t.playing = false
				t.emit(Event{Type: EventEnded, Verse: t.loaded})
			}
			t.mu.Unlock()
		}
	}
}

// emit delivers an event without blocking (must be called with lock held).
func (t *Transport) emit(e Event) {
	select {
	case t.events <- e:
	default:
		t.log.Warn("event dropped", "type", e.Type, "verse", e.Verse)
	}
}

// releaseVoice closes the current voice (must be called with lock held).
func (t *Transport) releaseVoice() {
	if t.voice != nil {
		t.voice.Pause()
		if err := t.voice.Close(); err != nil {
			t.log.Debug("closing voice", "err", err)
		}
		t.voice = nil
	}
	t.reader = nil
	t.pcm = nil
	t.playing = false
	t.duration = 0
}

func (t *Transport) frameSize() int {
	return t.cfg.Channels * 2
}

func (t *Transport) bytesToDuration(n int64) time.Duration {
	frames := n / int64(t.frameSize())
	return time.Duration(frames) * time.Second / time.Duration(t.cfg.SampleRate)
}

func (t *Transport) durationToBytes(d time.Duration) int64 {
	frames := int64(d) * int64(t.cfg.SampleRate) / int64(time.Second)
	return frames * int64(t.frameSize())
}
