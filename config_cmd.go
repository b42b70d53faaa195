package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# reciter folder or a name to match, see "recite reciters"
reciter: "Alafasy_128kbps"
# root of the per-verse audio archive
audio_base_url: "https://everyayah.com/data"
# serve /metrics and /state while playing, e.g. "127.0.0.1:9090"
listen: ""

log:
  # debug, info, warn or error
  level: "info"
  # defaults to recite.log in the user cache directory
  file: ""

repeat:
  # none, single, range or surah
  mode: "none"
  # first and last ayah of a range
  range_start: 0
  range_end: 0
  # plays of each verse
  repeat_each: 1
  # passes over the range or surah, or "infinite"
  play_count: 1
  # pause before a verse is repeated
  delay: "0s"

prefetch:
  # memory held by prefetched segments
  max_bytes: "50 MiB"
  # eviction drains the cache to this fraction of max_bytes
  low_water_ratio: 0.8
  fetch_timeout: "30s"
  # how much of each upcoming segment is fetched ahead
  range_bytes: "512 KiB"
  # 0 disables request pacing
  requests_per_second: 4
  # also prefetch the previous verse
  previous: false
  # keep downloaded segments on disk for offline playback
  disk_dir: ""
  disk_max_bytes: "500 MiB"

audio:
  # 44100 or 48000
  sample_rate: 44100
  # 1 (mono) or 2 (stereo)
  channels: 1
  # 0.0 to 1.0
  volume: 1.0
  # 0.5 to 2.0
  rate: 1.0
  # path to ffmpeg, defaults to the one on PATH
  ffmpeg: ""
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the recite config file",
	Long:    paragraph(fmt.Sprintf("\n%s the recite config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("recite config\nrecite config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// the file may not parse yet; editing it must still work
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Recite", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
