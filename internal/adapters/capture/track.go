// Package capture opens cameras, microphones and screens through
// pion/mediadevices and exposes them as core.LocalTrack.
package capture

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// snapshotEvery bounds how often a local frame is copied for capture.
const snapshotEvery = 250 * time.Millisecond

type Track struct {
	t       mediadevices.Track
	enabled atomic.Bool
	feed    *localFeed
	stop    sync.Once
}

var (
	_ core.LocalTrack  = (*Track)(nil)
	_ core.FrameSource = (*Track)(nil)
)

func wrap(t mediadevices.Track) *Track {
	tr := &Track{t: t}
	tr.enabled.Store(true)
	switch mt := t.(type) {
	case *mediadevices.VideoTrack:
		tr.feed = &localFeed{}
		mt.Transform(muteVideo(&tr.enabled, tr.feed, time.Now))
	case *mediadevices.AudioTrack:
		mt.Transform(muteAudio(&tr.enabled))
	}
	return tr
}

func (t *Track) ID() string                    { return t.t.ID() }
func (t *Track) Kind() webrtc.RTPCodecType     { return t.t.Kind() }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.t }
func (t *Track) Enabled() bool                 { return t.enabled.Load() }

// SetEnabled swaps frames for black or samples for silence. The
// encoder keeps running so nothing is renegotiated.
func (t *Track) SetEnabled(v bool) { t.enabled.Store(v) }

func (t *Track) Stop() {
	t.stop.Do(func() {
		if err := t.t.Close(); err != nil {
			log.Debug().Err(err).Str("module", "capture").Str("track", t.t.ID()).Msg("close track")
		}
	})
}

func (t *Track) OnEnded(f func()) {
	t.t.OnEnded(func(err error) {
		log.Info().Err(err).Str("module", "capture").Str("track", t.t.ID()).Msg("track ended")
		f()
	})
}

// LatestFrame is nil for audio and before the first frame.
func (t *Track) LatestFrame() image.Image {
	if t.feed == nil {
		return nil
	}
	return t.feed.LatestFrame()
}

type localFeed struct {
	mu     sync.RWMutex
	latest *image.RGBA
	taken  time.Time
}

func (f *localFeed) LatestFrame() image.Image {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return nil
	}
	return f.latest
}

// keep copies img, since the driver recycles its buffer on release.
func (f *localFeed) keep(img image.Image, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.taken.IsZero() && now.Sub(f.taken) < snapshotEvery {
		return
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	f.latest = dst
	f.taken = now
}

func muteVideo(enabled *atomic.Bool, feed *localFeed, now func() time.Time) video.TransformFunc {
	return func(r video.Reader) video.Reader {
		var black image.Image
		return video.ReaderFunc(func() (image.Image, func(), error) {
			img, release, err := r.Read()
			if err != nil {
				return img, release, err
			}
			if enabled.Load() {
				feed.keep(img, now())
				return img, release, nil
			}
			if black == nil || black.Bounds() != img.Bounds() {
				black = blank(img.Bounds())
			}
			return black, release, nil
		})
	}
}

func muteAudio(enabled *atomic.Bool) audio.TransformFunc {
	return func(r audio.Reader) audio.Reader {
		return audio.ReaderFunc(func() (wave.Audio, func(), error) {
			chunk, release, err := r.Read()
			if err != nil || enabled.Load() {
				return chunk, release, err
			}
			return silence(chunk), release, nil
		})
	}
}

// silence is a zeroed chunk in the same layout as c.
func silence(c wave.Audio) wave.Audio {
	info := c.ChunkInfo()
	switch c.(type) {
	case *wave.Float32Interleaved:
		return wave.NewFloat32Interleaved(info)
	case *wave.Float32NonInterleaved:
		return wave.NewFloat32NonInterleaved(info)
	case *wave.Int16NonInterleaved:
		return wave.NewInt16NonInterleaved(info)
	default:
		return wave.NewInt16Interleaved(info)
	}
}

// blank is a black 4:2:0 frame.
func blank(r image.Rectangle) image.Image {
	img := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	for i := range img.Cb {
		img.Cb[i] = 128
	}
	for i := range img.Cr {
		img.Cr[i] = 128
	}
	return img
}
