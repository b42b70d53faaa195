package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/tilawa/recite/internal/audio"
	"github.com/tilawa/recite/internal/config"
	"github.com/tilawa/recite/internal/metrics"
	"github.com/tilawa/recite/internal/playback"
	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/session"
	"github.com/tilawa/recite/internal/status"
	"github.com/tilawa/recite/internal/verse"
)

var (
	offline bool

	playCmd = &cobra.Command{
		Use:   "play KEY|SPAN",
		Short: "Recite from a verse, or repeat a span of verses",
		Long: paragraph(fmt.Sprintf("\n%s from a verse such as 2:255 and keep going through the surah. "+
			"A span such as 2:255-257 repeats those verses as a range.", keyword("Recite"))),
		Example: paragraph("recite play 2:255 --mode single --repeat-each 2\n" +
			"recite play 1:1-3 --plays 2\n" +
			"recite play 112 --mode surah --plays infinite --delay 1s"),
		Args: cobra.ExactArgs(1),
		RunE: runPlay,
	}
)

func init() {
	f := playCmd.Flags()
	f.StringP("reciter", "r", "", "reciter folder or name")
	f.StringP("mode", "m", "", "repeat mode: none, single, range or surah")
	f.Int("from", 0, "first ayah of the repeated range")
	f.Int("to", 0, "last ayah of the repeated range")
	f.IntP("repeat-each", "e", 0, "plays of each verse")
	f.StringP("plays", "p", "", `passes over the range or surah, or "infinite"`)
	f.DurationP("delay", "d", 0, "pause before a verse is repeated")
	f.Float64("volume", 0, "output volume, 0.0 to 1.0")
	f.Float64("rate", 0, "playback rate, 0.5 to 2.0")
	f.String("listen", "", "serve /metrics and /state on this address")
	f.Bool("prefetch-previous", false, "also prefetch the previous verse")
	f.BoolVar(&offline, "offline", false, "keep segments in the on-disk store")

	for key, flag := range map[string]string{
		"reciter":            "reciter",
		"repeat.mode":        "mode",
		"repeat.range_start": "from",
		"repeat.range_end":   "to",
		"repeat.repeat_each": "repeat-each",
		"repeat.play_count":  "plays",
		"repeat.delay":       "delay",
		"audio.volume":       "volume",
		"audio.rate":         "rate",
		"listen":             "listen",
		"prefetch.previous":  "prefetch-previous",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

// repeatFor applies a span argument to the configured repeat setting: a
// span of several verses selects range mode unless a mode was given.
func repeatFor(cmd *cobra.Command, base repeat.Config, from, to verse.Key) repeat.Config {
	rc := base
	if from != to && !cmd.Flags().Changed("mode") {
		rc.Mode = repeat.ModeRange
	}
	if rc.Mode == repeat.ModeRange && !cmd.Flags().Changed("from") && !cmd.Flags().Changed("to") &&
		(from != to || rc.RangeStart == 0) {
		rc.RangeStart, rc.RangeEnd = from.Verse, to.Verse
	}
	return rc
}

func runPlay(cmd *cobra.Command, args []string) error {
	table := verse.Quran()
	from, to, err := verse.ParseSpan(args[0])
	if err != nil {
		return err
	}
	for _, k := range []verse.Key{from, to} {
		if err := table.Validate(k); err != nil {
			return err
		}
	}

	rc := repeatFor(cmd, cfg.RepeatSetting(), from, to)
	if err := rc.Validate(); err != nil {
		return err
	}

	reciter, err := verse.FindReciter(cfg.Reciter)
	if err != nil {
		return err
	}
	urls := verse.URLBuilder{Base: cfg.AudioBaseURL, Folder: reciter.Folder}
	logger := log.Default()
	m := metrics.New()

	var fetcher prefetch.Fetcher = prefetch.NewHTTPFetcher(prefetch.HTTPFetcherConfig{
		RequestsPerSecond: cfg.Prefetch.RequestsPerSecond,
		UserAgent:         environ.UserAgent,
	})
	if offline || cfg.Prefetch.DiskDir != "" {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		fetcher = &prefetch.StoreFetcher{Store: store, Next: fetcher}
	}

	decoder := audio.FFmpegDecoder{
		Path:       cfg.Audio.FFmpeg,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Timeout:    cfg.Prefetch.FetchTimeout,
	}
	if !decoder.Available() {
		return errors.New("ffmpeg not found: install it or set audio.ffmpeg in the config file")
	}

	acfg := audio.DefaultConfig()
	acfg.SampleRate = cfg.Audio.SampleRate
	acfg.Channels = cfg.Audio.Channels
	acfg.Volume = cfg.Audio.Volume
	acfg.Rate = cfg.Audio.Rate
	acfg.LoadTimeout = cfg.Prefetch.FetchTimeout
	transport, err := audio.NewTransport(acfg, decoder, fetcher, logger)
	if err != nil {
		return err
	}
	defer transport.Close() //nolint:errcheck

	out := newConsole(os.Stderr)
	done := make(chan struct{})
	var once sync.Once

	sess, err := session.New(session.Options{
		Media:            transport,
		Listing:          table,
		URLFor:           urls.URL,
		Fetcher:          fetcher,
		Cache:            cfg.CacheOptions(),
		Repeat:           rc,
		PrefetchPrevious: cfg.Prefetch.Previous,
		OnStateChange: func(st playback.State) {
			if st == playback.StateStopped {
				once.Do(func() { close(done) })
			}
		},
		OnVerseChange: func(k verse.Key) {
			out.println(keyword(k.String()) + " " + faint(reciter.Name))
		},
		OnError: func(err error) {
			out.println(fmt.Sprintf("%v %s", err, faint("(press r to retry)")))
		},
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer sess.Close() //nolint:errcheck

	if cfg.Listen != "" {
		srv, err := status.Listen(cfg.Listen, status.NewHandler(sess, m, logger), logger)
		if err != nil {
			return fmt.Errorf("unable to start status server: %w", err)
		}
		srv.Serve()
		defer srv.Shutdown() //nolint:errcheck
	}

	if viper.ConfigFileUsed() != "" {
		watchConfig(sess, transport, cfg.RepeatSetting())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quit := make(chan struct{})
	if restore, ok := out.raw(); ok {
		defer restore()
		go readKeys(os.Stdin, sess, quit)
	}

	logger.Info("starting playback", "from", from, "to", to, "mode", rc.Mode, "reciter", reciter.Folder)
	if err := sess.Play(from); err != nil {
		return err
	}

	select {
	case <-done:
		st := sess.CacheStats()
		logger.Info("playback finished", "hits", st.Hits, "misses", st.Misses)
	case <-quit:
	case <-ctx.Done():
	}
	return nil
}

// watchConfig applies repeat, volume and rate changes from the config file
// to the running session.
func watchConfig(sess *session.Session, transport *audio.Transport, current repeat.Config) {
	var mu sync.Mutex
	config.Watch(viper.GetViper(), func(c config.Config) {
		mu.Lock()
		defer mu.Unlock()

		if rc := c.RepeatSetting(); rc != current {
			if err := sess.SetRepeatConfiguration(rc); err != nil {
				log.Warn("Could not apply repeat setting", "err", err)
			} else {
				current = rc
			}
		}
		if err := transport.SetVolume(c.Audio.Volume); err != nil {
			log.Warn("Could not apply volume", "err", err)
		}
		if err := transport.SetRate(c.Audio.Rate); err != nil {
			log.Warn("Could not apply rate", "err", err)
		}
	})
}

// readKeys maps single key presses to session commands until q or ctrl+c.
func readKeys(r io.Reader, sess *session.Session, quit chan<- struct{}) {
	defer close(quit)

	paused := false
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
		var err error
		switch buf[0] {
		case ' ', 'p':
			if paused {
				err = sess.Resume()
			} else {
				err = sess.Pause()
			}
			paused = !paused
		case 'r':
			err = sess.Retry()
		case 's':
			err = sess.Stop()
		case 'q', 3: // ctrl+c arrives as a byte in raw mode
			return
		}
		if err != nil {
			log.Debug("key command failed", "key", string(buf[0]), "err", err)
		}
	}
}

// console writes status lines, switching the terminal to raw mode for key
// presses when stdin is a terminal.
type console struct {
	mu  sync.Mutex
	w   io.Writer
	eol string
}

func newConsole(w io.Writer) *console {
	return &console{w: w, eol: "\n"}
}

func (c *console) raw() (func(), bool) {
	fd := int(os.Stdin.Fd()) //nolint:gosec
	if !term.IsTerminal(fd) {
		return nil, false
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		log.Debug("could not enter raw mode", "err", err)
		return nil, false
	}

	c.mu.Lock()
	c.eol = "\r\n"
	c.mu.Unlock()
	c.println(faint("space pause · r retry · s stop · q quit"))

	return func() {
		_ = term.Restore(fd, state)
		c.mu.Lock()
		c.eol = "\n"
		c.mu.Unlock()
	}, true
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.w, time.Now().Format("15:04:05")+" "+s+c.eol)
}
