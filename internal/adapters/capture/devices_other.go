//go:build !linux

package capture

import (
	"context"
	"errors"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/mediadevices"
)

var ErrUnsupported = errors.New("capture drivers are only built on linux")

// Devices is a stub on platforms without capture drivers; every open
// fails so callers fall through their ladders.
type Devices struct{}

var _ core.MediaDevices = (*Devices)(nil)

func NewDevices() (*Devices, error) { return &Devices{}, nil }

// Codecs is nil so the peer connection factory registers pion defaults.
func (d *Devices) Codecs() *mediadevices.CodecSelector { return nil }

func (d *Devices) GetUserMedia(context.Context, core.MediaConstraints) ([]core.LocalTrack, error) {
	return nil, ErrUnsupported
}

func (d *Devices) GetDisplayMedia(context.Context, core.DisplayConstraints) ([]core.LocalTrack, error) {
	return nil, ErrUnsupported
}
