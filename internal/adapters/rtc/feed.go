package rtc

import (
	"bytes"
	"image"
	"strings"
	"sync"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/vp8"
)

const (
	vp8ClockRate = 90000
	maxLate      = 128
)

// RemoteFeed decodes VP8 key frames of a remote track and keeps the
// latest one. Inter frames are skipped; the receiver's periodic PLI
// keeps key frames coming.
type RemoteFeed struct {
	mu     sync.RWMutex
	latest image.Image
	done   chan struct{}
}

// NewRemoteFeed starts reading t. It satisfies peer.FeedFactory.
func NewRemoteFeed(t core.RemoteTrack) core.FrameSource {
	f := &RemoteFeed{done: make(chan struct{})}
	if !strings.EqualFold(t.MimeType(), webrtc.MimeTypeVP8) {
		log.Warn().Str("module", "rtc").Str("mime", t.MimeType()).Msg("no decoder for remote video")
		close(f.done)
		return f
	}
	go f.run(t)
	return f
}

func (f *RemoteFeed) run(t core.RemoteTrack) {
	defer close(f.done)
	sb := samplebuilder.New(maxLate, &codecs.VP8Packet{}, vp8ClockRate)
	for {
		pkt, err := t.ReadRTP()
		if err != nil {
			return
		}
		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			if img := decodeKeyFrame(s.Data); img != nil {
				f.mu.Lock()
				f.latest = img
				f.mu.Unlock()
			}
		}
	}
}

// decodeKeyFrame returns nil for inter frames and corrupt data.
func decodeKeyFrame(data []byte) image.Image {
	d := vp8.NewDecoder()
	d.Init(bytes.NewReader(data), len(data))
	fh, err := d.DecodeFrameHeader()
	if err != nil || !fh.KeyFrame {
		return nil
	}
	img, err := d.DecodeFrame()
	if err != nil {
		log.Debug().Err(err).Str("module", "rtc").Msg("vp8 decode")
		return nil
	}
	return img
}

func (f *RemoteFeed) LatestFrame() image.Image {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest
}

// Done is closed once the track stops delivering.
func (f *RemoteFeed) Done() <-chan struct{} { return f.done }
