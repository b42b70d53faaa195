// Package config loads recite settings from command line flags, RECITE_*
// environment variables, a .env file and the config file, in that order of
// precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"

	"github.com/tilawa/recite/internal/prefetch"
	"github.com/tilawa/recite/internal/repeat"
	"github.com/tilawa/recite/internal/verse"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RECITE"

// Environment holds process settings that only come from the environment.
type Environment struct {
	ConfigHome string `env:"RECITE_CONFIG_HOME"`
	CacheHome  string `env:"RECITE_CACHE_HOME"`
	UserAgent  string `env:"RECITE_USER_AGENT" envDefault:"recite (+https://github.com/tilawa/recite)"`
	Debug      bool   `env:"RECITE_DEBUG"`
}

// ReadEnvironment parses Environment from the process environment.
func ReadEnvironment() (Environment, error) {
	return env.ParseAs[Environment]()
}

// Config contains all recite configuration options.
type Config struct {
	Reciter      string `mapstructure:"reciter" yaml:"reciter" validate:"required"`
	AudioBaseURL string `mapstructure:"audio_base_url" yaml:"audio_base_url" validate:"required,url"`
	Listen       string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`

	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Repeat   RepeatConfig   `mapstructure:"repeat" yaml:"repeat"`
	Prefetch PrefetchConfig `mapstructure:"prefetch" yaml:"prefetch"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file" yaml:"file"`
}

// RepeatConfig is the repeat setting applied when playback starts.
type RepeatConfig struct {
	Mode       repeat.Mode   `mapstructure:"mode" yaml:"mode"`
	RangeStart int           `mapstructure:"range_start" yaml:"range_start" validate:"gte=0,lte=286"`
	RangeEnd   int           `mapstructure:"range_end" yaml:"range_end" validate:"gte=0,lte=286"`
	RepeatEach int           `mapstructure:"repeat_each" yaml:"repeat_each" validate:"gte=1"`
	PlayCount  Plays         `mapstructure:"play_count" yaml:"play_count" validate:"gte=1"`
	Delay      time.Duration `mapstructure:"delay" yaml:"delay" validate:"gte=0"`
}

// PrefetchConfig sizes the segment cache and its fetcher.
type PrefetchConfig struct {
	MaxBytes          ByteSize      `mapstructure:"max_bytes" yaml:"max_bytes" validate:"gt=0"`
	LowWaterRatio     float64       `mapstructure:"low_water_ratio" yaml:"low_water_ratio" validate:"gt=0,lte=1"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout" validate:"gt=0"`
	RangeBytes        ByteSize      `mapstructure:"range_bytes" yaml:"range_bytes" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Previous          bool          `mapstructure:"previous" yaml:"previous"`
	DiskDir           string        `mapstructure:"disk_dir" yaml:"disk_dir"`
	DiskMaxBytes      ByteSize      `mapstructure:"disk_max_bytes" yaml:"disk_max_bytes" validate:"gte=0"`
}

// AudioConfig controls decoding and the output device.
type AudioConfig struct {
	SampleRate int     `mapstructure:"sample_rate" yaml:"sample_rate" validate:"oneof=44100 48000"`
	Channels   int     `mapstructure:"channels" yaml:"channels" validate:"oneof=1 2"`
	Volume     float64 `mapstructure:"volume" yaml:"volume" validate:"gte=0,lte=1"`
	Rate       float64 `mapstructure:"rate" yaml:"rate" validate:"gte=0.5,lte=2"`
	FFmpeg     string  `mapstructure:"ffmpeg" yaml:"ffmpeg"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Reciter:      "Alafasy_128kbps",
		AudioBaseURL: verse.DefaultAudioBase,
		Log: LogConfig{
			Level: "info",
		},
		Repeat: RepeatConfig{
			Mode:       repeat.ModeNone,
			RepeatEach: 1,
			PlayCount:  1,
		},
		Prefetch: PrefetchConfig{
			MaxBytes:      prefetch.DefaultMaxBytes,
			LowWaterRatio: prefetch.DefaultLowWaterRatio,
			FetchTimeout:  prefetch.DefaultFetchTimeout,
			RangeBytes:    prefetch.DefaultRangeBytes,
			DiskMaxBytes:  500 << 20,

			RequestsPerSecond: 4,
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   1,
			Volume:     1.0,
			Rate:       1.0,
		},
	}
}

// RepeatSetting converts the repeat section into a repeat.Config.
func (c Config) RepeatSetting() repeat.Config {
	return repeat.Config{
		Mode:       c.Repeat.Mode,
		RangeStart: c.Repeat.RangeStart,
		RangeEnd:   c.Repeat.RangeEnd,
		RepeatEach: c.Repeat.RepeatEach,
		PlayCount:  int(c.Repeat.PlayCount),
		Delay:      c.Repeat.Delay,
	}
}

// CacheOptions converts the prefetch section into cache options.
func (c Config) CacheOptions() prefetch.Options {
	return prefetch.Options{
		MaxBytes:      int64(c.Prefetch.MaxBytes),
		LowWaterRatio: c.Prefetch.LowWaterRatio,
		FetchTimeout:  c.Prefetch.FetchTimeout,
		RangeBytes:    int64(c.Prefetch.RangeBytes),
	}
}

// ByteSize is a size that reads human-friendly values like "50MB" or
// "512KiB".
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", text, err)
	}
	*b = ByteSize(n) //nolint:gosec
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b)) //nolint:gosec
}

// Plays is a pass count that also accepts "infinite".
type Plays int

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Plays) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(strings.ToLower(string(text)))
	switch s {
	case "infinite", "inf", "forever", "∞":
		*p = repeat.InfinitePlays
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid play count %q: use a number or \"infinite\"", text)
	}
	*p = Plays(n)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Plays) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p Plays) String() string {
	if p == repeat.InfinitePlays {
		return "infinite"
	}
	return strconv.Itoa(int(p))
}
