package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tilawa/recite/internal/verse"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var validate = newValidator()

// newValidator reports fields by their config file keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetDefaults registers the built-in configuration with v so that every key
// is known to viper even when the config file omits it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("reciter", d.Reciter)
	v.SetDefault("audio_base_url", d.AudioBaseURL)
	v.SetDefault("listen", d.Listen)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("repeat.mode", d.Repeat.Mode.String())
	v.SetDefault("repeat.range_start", d.Repeat.RangeStart)
	v.SetDefault("repeat.range_end", d.Repeat.RangeEnd)
	v.SetDefault("repeat.repeat_each", d.Repeat.RepeatEach)
	v.SetDefault("repeat.play_count", int(d.Repeat.PlayCount))
	v.SetDefault("repeat.delay", d.Repeat.Delay.String())

	v.SetDefault("prefetch.max_bytes", d.Prefetch.MaxBytes.String())
	v.SetDefault("prefetch.low_water_ratio", d.Prefetch.LowWaterRatio)
	v.SetDefault("prefetch.fetch_timeout", d.Prefetch.FetchTimeout.String())
	v.SetDefault("prefetch.range_bytes", d.Prefetch.RangeBytes.String())
	v.SetDefault("prefetch.requests_per_second", d.Prefetch.RequestsPerSecond)
	v.SetDefault("prefetch.previous", d.Prefetch.Previous)
	v.SetDefault("prefetch.disk_dir", d.Prefetch.DiskDir)
	v.SetDefault("prefetch.disk_max_bytes", d.Prefetch.DiskMaxBytes.String())

	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.volume", d.Audio.Volume)
	v.SetDefault("audio.rate", d.Audio.Rate)
	v.SetDefault("audio.ffmpeg", d.Audio.FFmpeg)
}

// Load reads .env files into the environment, decodes the settings held by
// v with RECITE_* variables taking precedence over the config file, and
// validates the result.
func Load(v *viper.Viper, dotenv ...string) (Config, error) {
	cfg := Default()

	if err := loadDotenv(dotenv...); err != nil {
		return cfg, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotenv reads the given files into the process environment, skipping
// files that do not exist. Variables already set win.
func loadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("unable to read %s: %w", f, err)
		}
		log.Debug("Loaded environment file", "path", f)
	}
	return nil
}

// Validate checks field ranges, the reciter name and the repeat setting.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if _, err := verse.FindReciter(cfg.Reciter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.RepeatSetting().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Watch calls fn with the reloaded configuration each time the config file
// used by v is written. Reloads that fail to validate are logged and
// skipped.
func Watch(v *viper.Viper, fn func(Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(v)
		if err != nil {
			log.Warn("Ignoring invalid configuration change", "path", e.Name, "err", err)
			return
		}
		log.Info("Configuration reloaded", "path", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
}
