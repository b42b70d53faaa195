package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// Decoder turns a compressed segment into signed 16-bit little-endian PCM.
type Decoder interface {
	Decode(ctx context.Context, data []byte, rate float64) ([]byte, error)
}

// FFmpegDecoder decodes segments with an ffmpeg subprocess.
type FFmpegDecoder struct {
	Path       string // defaults to "ffmpeg" on PATH
	SampleRate int
	Channels   int
	Timeout    time.Duration
}

// Available reports whether the ffmpeg binary can be found.
func (d FFmpegDecoder) Available() bool {
	_, err := exec.LookPath(d.path())
	return err == nil
}

func (d FFmpegDecoder) path() string {
	if d.Path == "" {
		return "ffmpeg"
	}
	return d.Path
}

// Decode implements Decoder. rate changes the tempo without altering pitch
// and is clamped to the 0.5-2.0 range ffmpeg's atempo filter supports.
func (d FFmpegDecoder) Decode(ctx context.Context, data []byte, rate float64) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("segment is empty")
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.path(), d.args(rate)...)
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg decode timeout: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, lastLine(stderr.Bytes()))
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, errors.New("ffmpeg produced no audio")
	}
	return pcm, nil
}

func (d FFmpegDecoder) args(rate float64) []string {
	sampleRate := d.SampleRate
	if sampleRate == 0 {
		sampleRate = 44100
	}
	channels := d.Channels
	if channels == 0 {
		channels = 1
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
	}
	if rate != 0 && rate != 1.0 {
		clamped := min(max(rate, 0.5), 2.0)
		args = append(args, "-filter:a", fmt.Sprintf("atempo=%.2f", clamped))
	}
	return append(args, "pipe:1")
}

func lastLine(b []byte) string {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}
