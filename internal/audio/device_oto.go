//go:build !nocgo

package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/tilawa/recite/internal/prefetch"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

type otoDevice struct {
	ctx *oto.Context
}

func (d otoDevice) NewVoice(r io.ReadSeeker) voice {
	return d.ctx.NewPlayer(r)
}

func openDevice(config Config) (device, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   config.SampleRate,
			ChannelCount: config.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
		}

		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	return otoDevice{ctx: otoCtx}, nil
}

// NewTransport opens the audio device and returns a transport that fetches
// uncached segments through fetcher and decodes them with decoder.
func NewTransport(config Config, decoder Decoder, fetcher prefetch.Fetcher, logger *log.Logger) (*Transport, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dev, err := openDevice(config)
	if err != nil {
		return nil, err
	}
	return newTransport(dev, decoder, fetcher, config, logger), nil
}
