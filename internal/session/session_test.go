package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilawa/recite/internal/audio"
	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/verse"
)

// fakeMedia records transport calls and lets tests end segments.
type fakeMedia struct {
	mu     sync.Mutex
	loaded verse.Key
	plays  []verse.Key
	pauses int
	events chan audio.Event
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{events: make(chan audio.Event, 16)}
}

func (m *fakeMedia) Load(src playback.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = src.Verse
	return nil
}

func (m *fakeMedia) Seek(time.Duration) error { return nil }

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, m.loaded)
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses++
	return nil
}

func (m *fakeMedia) Events() <-chan audio.Event { return m.events }

func (m *fakeMedia) played() []verse.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]verse.Key(nil), m.plays...)
}

func (m *fakeMedia) current() verse.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// end reports the end of the loaded segment.
func (m *fakeMedia) end() {
	m.events <- audio.Event{Type: audio.EventEnded, Verse: m.current()}
}

// countingFetcher serves small payloads and records requested URLs.
type countingFetcher struct {
	mu   sync.Mutex
	urls map[string]int
}

func (f *countingFetcher) Fetch(_ context.Context, url string, _ int64) (prefetch.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urls == nil {
		f.urls = make(map[string]int)
	}
	f.urls[url]++
	return prefetch.Payload{Data: make([]byte, 64), Complete: true, Total: 64}, nil
}

func (f *countingFetcher) fetched(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urls[url]
}

func testURL(k verse.Key) string {
	return fmt.Sprintf("mem://%03d%03d", k.Chapter, k.Verse)
}

func newTestSession(t *testing.T, counts []int, cfg repeat.Config, mutate ...func(*Options)) (*Session, *fakeMedia, *countingFetcher) {
	t.Helper()

	media := newFakeMedia()
	fetcher := &countingFetcher{}
	opts := Options{
		Media:   media,
		Listing: verse.NewTable(counts),
		URLFor:  testURL,
		Fetcher: fetcher,
		Cache:   prefetch.DefaultOptions(),
		Repeat:  cfg,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	s, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, media, fetcher
}

// playThrough ends every segment until n plays happened.
func playThrough(t *testing.T, media *fakeMedia, n int) []verse.Key {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.Eventually(t, func() bool { return len(media.played()) >= i },
			2*time.Second, time.Millisecond, "waiting for play %d", i)
		if i < n {
			media.end()
		}
	}
	return media.played()
}

func TestSessionRepeatsSingleVerse(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeSingle, RepeatEach: 2, PlayCount: 1}
	s, media, _ := newTestSession(t, []int{7, 286}, cfg)

	k := verse.Key{Chapter: 2, Verse: 255}
	require.NoError(t, s.Play(k))

	plays := playThrough(t, media, 4)
	assert.Equal(t, []verse.Key{k, k, k, k.WithVerse(256)}, plays)
}

func TestSessionRangePasses(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeRange, RangeStart: 1, RangeEnd: 3, RepeatEach: 1, PlayCount: 2}
	s, media, _ := newTestSession(t, []int{7}, cfg)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))
	plays := playThrough(t, media, 6)

	var ayahs []int
	for _, k := range plays {
		ayahs = append(ayahs, k.Verse)
	}
	assert.Equal(t, []int{1, 2, 3, 1, 2, 3}, ayahs)

	media.end()
	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		return err == nil && snap.State == playback.StateStopped
	}, time.Second, time.Millisecond)
	assert.Len(t, media.played(), 6)
}

func TestSessionChapterRestart(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeSurah, RepeatEach: 1, PlayCount: 2}
	s, media, _ := newTestSession(t, []int{2}, cfg)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))
	plays := playThrough(t, media, 4)

	var ayahs []int
	for _, k := range plays {
		ayahs = append(ayahs, k.Verse)
	}
	assert.Equal(t, []int{1, 2, 1, 2}, ayahs)

	media.end()
	require.Eventually(t, func() bool {
		snap, _ := s.Snapshot()
		return snap.State == playback.StateStopped
	}, time.Second, time.Millisecond)
}

func TestSessionWarmsNextVerse(t *testing.T) {
	s, _, fetcher := newTestSession(t, []int{7}, repeat.DefaultConfig())

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))

	next := testURL(verse.Key{Chapter: 1, Verse: 2})
	require.Eventually(t, func() bool { return s.GetCached(next) != nil }, time.Second, time.Millisecond)
	assert.Equal(t, 1, fetcher.fetched(next))
}

func TestSessionWarmsRangeStartAtRangeEnd(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeRange, RangeStart: 2, RangeEnd: 4, RepeatEach: 1, PlayCount: 2}
	s, _, fetcher := newTestSession(t, []int{7}, cfg)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 4}))

	start := testURL(verse.Key{Chapter: 1, Verse: 2})
	require.Eventually(t, func() bool { return fetcher.fetched(start) == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, fetcher.fetched(testURL(verse.Key{Chapter: 1, Verse: 5})))
}

func TestSessionSkipsWarmingAfterFinalPass(t *testing.T) {
	tt := []struct {
		name   string
		counts []int
		cfg    repeat.Config
		play   verse.Key
		skip   verse.Key
	}{
		{
			name:   "range",
			counts: []int{7},
			cfg:    repeat.Config{Mode: repeat.ModeRange, RangeStart: 2, RangeEnd: 4, RepeatEach: 1, PlayCount: 1},
			play:   verse.Key{Chapter: 1, Verse: 4},
			skip:   verse.Key{Chapter: 1, Verse: 2},
		},
		{
			name:   "surah",
			counts: []int{3},
			cfg:    repeat.Config{Mode: repeat.ModeSurah, RepeatEach: 1, PlayCount: 1},
			play:   verse.Key{Chapter: 1, Verse: 3},
			skip:   verse.Key{Chapter: 1, Verse: 1},
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			s, _, fetcher := newTestSession(t, tc.counts, tc.cfg, func(o *Options) {
				o.PrefetchPrevious = true
			})
			require.NoError(t, s.Play(tc.play))

			prev := testURL(tc.play.WithVerse(tc.play.Verse - 1))
			require.Eventually(t, func() bool { return s.GetCached(prev) != nil }, time.Second, time.Millisecond)
			_, err := s.Snapshot()
			require.NoError(t, err)

			assert.Zero(t, fetcher.fetched(testURL(tc.skip)))
			assert.Zero(t, fetcher.fetched(testURL(tc.play.WithVerse(tc.play.Verse+1))))
		})
	}
}

func TestSessionWarmsRangeStartWithInfinitePlays(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeRange, RangeStart: 2, RangeEnd: 4, RepeatEach: 1, PlayCount: repeat.InfinitePlays}
	s, _, fetcher := newTestSession(t, []int{7}, cfg)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 4}))

	start := testURL(verse.Key{Chapter: 1, Verse: 2})
	require.Eventually(t, func() bool { return fetcher.fetched(start) == 1 }, time.Second, time.Millisecond)
}

func TestSessionWarmsPrevious(t *testing.T) {
	s, _, fetcher := newTestSession(t, []int{7}, repeat.DefaultConfig(), func(o *Options) {
		o.PrefetchPrevious = true
	})

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 3}))

	prev := testURL(verse.Key{Chapter: 1, Verse: 2})
	require.Eventually(t, func() bool { return fetcher.fetched(prev) == 1 }, time.Second, time.Millisecond)
}

func TestSessionRejectsInvalidConfiguration(t *testing.T) {
	s, _, _ := newTestSession(t, []int{7}, repeat.DefaultConfig())

	err := s.SetRepeatConfiguration(repeat.Config{Mode: repeat.ModeSingle, RepeatEach: 0, PlayCount: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, repeat.ErrInvalidConfig)

	_, err = New(Options{
		Media:   newFakeMedia(),
		Listing: verse.Quran(),
		URLFor:  testURL,
		Fetcher: &countingFetcher{},
		Repeat:  repeat.Config{Mode: repeat.ModeRange, RangeStart: 5, RangeEnd: 2, RepeatEach: 1, PlayCount: 1},
	})
	assert.ErrorIs(t, err, repeat.ErrInvalidConfig)
}

func TestSessionRuntimeState(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeSingle, RepeatEach: 3, PlayCount: 1, Delay: time.Hour}
	s, media, _ := newTestSession(t, []int{7}, cfg)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))
	assert.Equal(t, repeat.State{VersesRepeatsLeft: 3, PlaysLeft: 1}, s.RuntimeState())

	media.end()
	require.Eventually(t, func() bool {
		return s.RuntimeState().VersesRepeatsLeft == 2
	}, time.Second, time.Millisecond)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, playback.StateAwaitingDelay, snap.State)
	assert.Equal(t, "1:1", snap.Verse)
}

func TestSessionIgnoresEventsForOtherVerses(t *testing.T) {
	s, media, _ := newTestSession(t, []int{7}, repeat.DefaultConfig())

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))
	media.events <- audio.Event{Type: audio.EventEnded, Verse: verse.Key{Chapter: 1, Verse: 5}}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "1:1", snap.Verse)
	assert.Len(t, media.played(), 1)
}

func TestSessionSurfacesMediaErrors(t *testing.T) {
	errs := make(chan error, 1)
	s, media, _ := newTestSession(t, []int{7}, repeat.DefaultConfig(), func(o *Options) {
		o.OnError = func(err error) { errs <- err }
	})

	k := verse.Key{Chapter: 1, Verse: 1}
	require.NoError(t, s.Play(k))
	media.events <- audio.Event{Type: audio.EventError, Verse: k, Err: errors.New("device lost")}

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, playback.ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("no error surfaced")
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, playback.StateFailed, snap.State)
	assert.Contains(t, snap.LastError, "device lost")

	require.NoError(t, s.Retry())
	assert.Len(t, media.played(), 2)
}

func TestSessionCloseCancelsPendingReplay(t *testing.T) {
	cfg := repeat.Config{Mode: repeat.ModeSingle, RepeatEach: 1, PlayCount: 1, Delay: 50 * time.Millisecond}
	media := newFakeMedia()
	s, err := New(Options{
		Media:   media,
		Listing: verse.NewTable([]int{7}),
		URLFor:  testURL,
		Fetcher: &countingFetcher{},
		Cache:   prefetch.DefaultOptions(),
		Repeat:  cfg,
	})
	require.NoError(t, err)

	require.NoError(t, s.Play(verse.Key{Chapter: 1, Verse: 1}))
	require.NotNil(t, s.Prefetch(context.Background(), "mem://extra"))
	media.end()
	require.Eventually(t, func() bool {
		return s.RuntimeState().VersesRepeatsLeft == 0
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Close())
	time.Sleep(100 * time.Millisecond)

	assert.Len(t, media.played(), 1, "replay fired after close")
	assert.Zero(t, s.CacheStats().Count)
	assert.ErrorIs(t, s.Play(verse.Key{Chapter: 1, Verse: 2}), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSessionCacheSurface(t *testing.T) {
	s, _, fetcher := newTestSession(t, []int{7}, repeat.DefaultConfig())

	h := s.Prefetch(context.Background(), "mem://a")
	require.NotNil(t, h)
	assert.Same(t, h, s.GetCached("mem://a"))
	assert.Equal(t, 1, s.CacheStats().Count)

	s.ClearCache()
	assert.True(t, h.Released())
	assert.Nil(t, s.GetCached("mem://a"))
	assert.Equal(t, 1, fetcher.fetched("mem://a"))
}
