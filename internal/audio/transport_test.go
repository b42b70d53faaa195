package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/verse"
)

// mockVoice simulates an oto player over the reader it was given.
type mockVoice struct {
	mu      sync.Mutex
	r       io.ReadSeeker
	playing bool
	volume  float64
	closed  bool
	err     error
}

func (v *mockVoice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = true
}

func (v *mockVoice) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
}

// IsPlaying drains the reader to simulate instant playback.
func (v *mockVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing {
		io.Copy(io.Discard, v.r)
		v.playing = false
	}
	return v.playing
}

func (v *mockVoice) Seek(offset int64, whence int) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.r.Seek(offset, whence)
}

func (v *mockVoice) SetVolume(volume float64) { v.volume = volume }
func (v *mockVoice) BufferedSize() int        { return 0 }
func (v *mockVoice) Err() error               { return v.err }

func (v *mockVoice) Close() error {
	v.closed = true
	return nil
}

type mockDevice struct {
	mu     sync.Mutex
	voices []*mockVoice
}

func (d *mockDevice) NewVoice(r io.ReadSeeker) voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := &mockVoice{r: r}
	d.voices = append(d.voices, v)
	return v
}

// passthroughDecoder treats segment bytes as PCM.
type passthroughDecoder struct {
	rates []float64
	err   error
}

func (d *passthroughDecoder) Decode(_ context.Context, data []byte, rate float64) ([]byte, error) {
	d.rates = append(d.rates, rate)
	if d.err != nil {
		return nil, d.err
	}
	return append([]byte(nil), data...), nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	return cfg
}

func completeHandle(t *testing.T, url string, size int) *prefetch.Handle {
	t.Helper()
	c := prefetch.New(prefetch.FetcherFunc(func(context.Context, string, int64) (prefetch.Payload, error) {
		return prefetch.Payload{Data: make([]byte, size), Complete: true, Total: int64(size)}, nil
	}), prefetch.DefaultOptions())
	t.Cleanup(c.Close)

	h := c.Prefetch(context.Background(), url)
	if h == nil {
		t.Fatal("prefetch failed")
	}
	return h
}

func waitEvent(t *testing.T, tr *Transport, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-tr.Events():
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestTransportPlaysCachedSegment(t *testing.T) {
	dev := &mockDevice{}
	fetches := 0
	fetcher := prefetch.FetcherFunc(func(context.Context, string, int64) (prefetch.Payload, error) {
		fetches++
		return prefetch.Payload{}, errors.New("should not fetch")
	})
	tr := newTransport(dev, &passthroughDecoder{}, fetcher, testConfig(), nil)
	defer tr.Close()

	k := verse.Key{Chapter: 1, Verse: 1}
	// One second of mono 44.1kHz PCM.
	h := completeHandle(t, "u", 88200)
	if err := tr.Load(playback.Source{Verse: k, URL: "u", Handle: h}); err != nil {
		t.Fatal(err)
	}
	if fetches != 0 {
		t.Error("complete handle should avoid a fetch")
	}
	if got := tr.Duration(); got != time.Second {
		t.Errorf("duration = %v", got)
	}

	waitEvent(t, tr, EventLoaded)
	if err := tr.Play(); err != nil {
		t.Fatal(err)
	}
	e := waitEvent(t, tr, EventEnded)
	if e.Verse != k {
		t.Errorf("ended verse = %v", e.Verse)
	}
	if tr.IsPlaying() {
		t.Error("still playing after end")
	}
}

// streamingVoice pulls PCM from its own goroutine in small chunks, the
// way the oto player does.
type streamingVoice struct {
	mockVoice
	done chan struct{}
}

func (v *streamingVoice) Play() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.playing {
		return
	}
	v.playing = true
	go func() {
		defer close(v.done)
		buf := make([]byte, 441)
		for {
			if _, err := v.r.Read(buf); err != nil {
				break
			}
			time.Sleep(100 * time.Microsecond)
		}
		v.mu.Lock()
		v.playing = false
		v.mu.Unlock()
	}()
}

func (v *streamingVoice) IsPlaying() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

type streamingDevice struct {
	mu     sync.Mutex
	voices []*streamingVoice
}

func (d *streamingDevice) NewVoice(r io.ReadSeeker) voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := &streamingVoice{mockVoice: mockVoice{r: r}, done: make(chan struct{})}
	d.voices = append(d.voices, v)
	return v
}

func TestTransportPositionWhileDeviceReads(t *testing.T) {
	dev := &streamingDevice{}
	tr := newTransport(dev, &passthroughDecoder{}, nil, testConfig(), nil)
	defer tr.Close()

	k := verse.Key{Chapter: 112, Verse: 1}
	h := completeHandle(t, "u", 44100)
	if err := tr.Load(playback.Source{Verse: k, URL: "u", Handle: h}); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, tr, EventLoaded)
	if err := tr.Play(); err != nil {
		t.Fatal(err)
	}

	var last time.Duration
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-tr.Events():
			if e.Type != EventEnded {
				continue
			}
			<-dev.voices[0].done
			if got := tr.Position(); got != tr.Duration() {
				t.Errorf("position at end = %v, want %v", got, tr.Duration())
			}
			return
		case <-timeout:
			t.Fatal("no ended event")
		default:
			pos := tr.Position()
			if pos < last {
				t.Fatalf("position went back from %v to %v", last, pos)
			}
			last = pos
		}
	}
}

func TestPositionReader(t *testing.T) {
	r := newPositionReader(make([]byte, 100))
	buf := make([]byte, 30)
	if _, err := r.Read(buf); err != nil {
		t.Fatal(err)
	}
	if r.Position() != 30 || r.Remaining() != 70 {
		t.Errorf("after read: position %d, remaining %d", r.Position(), r.Remaining())
	}
	if _, err := r.Seek(90, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if r.Position() != 90 || r.Remaining() != 10 {
		t.Errorf("after seek: position %d, remaining %d", r.Position(), r.Remaining())
	}
	io.Copy(io.Discard, r)
	if r.Remaining() != 0 || r.Size() != 100 {
		t.Errorf("after drain: remaining %d, size %d", r.Remaining(), r.Size())
	}
}

func TestTransportFetchesUncached(t *testing.T) {
	var gotMax int64 = -1
	fetcher := prefetch.FetcherFunc(func(_ context.Context, url string, maxBytes int64) (prefetch.Payload, error) {
		gotMax = maxBytes
		return prefetch.Payload{Data: make([]byte, 4410*2), Complete: true}, nil
	})
	tr := newTransport(&mockDevice{}, &passthroughDecoder{}, fetcher, testConfig(), nil)
	defer tr.Close()

	if err := tr.Load(playback.Source{Verse: verse.Key{Chapter: 1, Verse: 2}, URL: "u"}); err != nil {
		t.Fatal(err)
	}
	if gotMax != 0 {
		t.Errorf("expected whole-segment fetch, maxBytes = %d", gotMax)
	}
	if got := tr.Duration(); got != 100*time.Millisecond {
		t.Errorf("duration = %v", got)
	}
}

func TestTransportSeekAndControls(t *testing.T) {
	dev := &mockDevice{}
	tr := newTransport(dev, &passthroughDecoder{}, nil, testConfig(), nil)
	defer tr.Close()

	if err := tr.Play(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Play before Load = %v", err)
	}

	h := completeHandle(t, "u", 88200)
	if err := tr.Load(playback.Source{URL: "u", Handle: h}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Seek(500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got := tr.Position(); got != 500*time.Millisecond {
		t.Errorf("position = %v", got)
	}
	if err := tr.Seek(2 * time.Second); err == nil {
		t.Error("seek past the end should fail")
	}

	if err := tr.SetVolume(0.5); err != nil {
		t.Fatal(err)
	}
	if dev.voices[0].volume != 0.5 {
		t.Errorf("volume = %v", dev.voices[0].volume)
	}
	if err := tr.SetVolume(2); err == nil {
		t.Error("volume above 1 should be rejected")
	}
}

func TestTransportRateAppliesToNextLoad(t *testing.T) {
	dec := &passthroughDecoder{}
	tr := newTransport(&mockDevice{}, dec, nil, testConfig(), nil)
	defer tr.Close()

	if err := tr.SetRate(1.25); err != nil {
		t.Fatal(err)
	}
	h := completeHandle(t, "u", 100)
	if err := tr.Load(playback.Source{URL: "u", Handle: h}); err != nil {
		t.Fatal(err)
	}
	if dec.rates[0] != 1.25 {
		t.Errorf("decode rate = %v", dec.rates[0])
	}
	if err := tr.SetRate(3); err == nil {
		t.Error("rate 3 should be rejected")
	}
}

func TestTransportLoadReplacesVoice(t *testing.T) {
	dev := &mockDevice{}
	tr := newTransport(dev, &passthroughDecoder{}, nil, testConfig(), nil)
	defer tr.Close()

	h := completeHandle(t, "u", 100)
	tr.Load(playback.Source{URL: "u", Handle: h})
	tr.Load(playback.Source{URL: "u", Handle: h})

	if len(dev.voices) != 2 || !dev.voices[0].closed {
		t.Error("previous voice was not released")
	}
}

func TestTransportDecodeError(t *testing.T) {
	tr := newTransport(&mockDevice{}, &passthroughDecoder{err: errors.New("bad frame")}, nil, testConfig(), nil)
	defer tr.Close()

	h := completeHandle(t, "u", 100)
	if err := tr.Load(playback.Source{URL: "u", Handle: h}); err == nil {
		t.Error("expected decode error")
	}
}

func TestTransportClose(t *testing.T) {
	tr := newTransport(&mockDevice{}, &passthroughDecoder{}, nil, testConfig(), nil)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Error("events channel should be closed")
	}
}

func TestValidateConfig(t *testing.T) {
	bad := DefaultConfig()
	bad.SampleRate = 22050
	if err := validateConfig(bad); err == nil {
		t.Error("22050 Hz should be rejected")
	}
	if err := validateConfig(DefaultConfig()); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestFFmpegArgs(t *testing.T) {
	d := FFmpegDecoder{SampleRate: 48000, Channels: 2}
	args := d.args(4)

	want := map[string]string{"-ar": "48000", "-ac": "2", "-filter:a": "atempo=2.00"}
	for i := 0; i < len(args)-1; i++ {
		if v, ok := want[args[i]]; ok && args[i+1] != v {
			t.Errorf("%s = %s, want %s", args[i], args[i+1], v)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output = %s", args[len(args)-1])
	}
}
