//go:build nocgo

package audio

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/tilawa/recite/internal/prefetch"
)

// ErrNoAudio is returned when the binary was built without audio support.
var ErrNoAudio = errors.New("audio not available in nocgo build")

// NewTransport always fails in builds without cgo.
func NewTransport(config Config, decoder Decoder, fetcher prefetch.Fetcher, logger *log.Logger) (*Transport, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return nil, ErrNoAudio
}
