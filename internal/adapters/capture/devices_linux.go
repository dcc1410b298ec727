//go:build linux

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/rs/zerolog/log"
)

const videoBitRate = 1_500_000

// Devices opens V4L2 cameras, malgo microphones and X11 screens.
type Devices struct {
	codecs    *mediadevices.CodecSelector
	warnAudio sync.Once
}

var _ core.MediaDevices = (*Devices)(nil)

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	d := &Devices{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}
	for _, dev := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "capture").Str("label", dev.Label).Str("kind", fmt.Sprint(dev.Kind)).Msg("media device")
	}
	return d, nil
}

// Codecs is what the peer connection factory registers.
func (d *Devices) Codecs() *mediadevices.CodecSelector { return d.codecs }

func (d *Devices) GetUserMedia(ctx context.Context, c core.MediaConstraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a := c.Audio; a != nil && (a.EchoCancellation || a.NoiseSuppression || a.AutoGainControl) {
		d.warnAudio.Do(func() {
			log.Warn().Str("module", "capture").Msg("audio processing constraints are not supported by the capture driver")
		})
	}
	stream, err := mediadevices.GetUserMedia(streamConstraints(c, d.codecs))
	if err != nil {
		return nil, err
	}
	return wrapAll(stream.GetTracks()), nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context, c core.DisplayConstraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: d.codecs,
		Video: func(mc *mediadevices.MediaTrackConstraints) { applyDisplay(mc, c) },
	})
	if err != nil {
		return nil, err
	}
	return wrapAll(stream.GetTracks()), nil
}

func wrapAll(tracks []mediadevices.Track) []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, wrap(t))
	}
	return out
}
