// Package capture grabs still JPEG frames from live video feeds.
package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// TargetLocal selects the local camera or display feed.
const TargetLocal = "local"

const (
	DefaultMaxWidth = 1280
	DefaultQuality  = 75
	mimeJPEG        = "image/jpeg"
)

var ErrInvalidOptions = errors.New("capture: invalid options")

type CapturedImage struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// DataURL renders the image as a base64 data URL.
func (c *CapturedImage) DataURL() string {
	return "data:" + c.MIME + ";base64," + base64.StdEncoding.EncodeToString(c.Data)
}

// RemoteFeeds looks up the decoded feed of a peer, nil if none.
type RemoteFeeds interface {
	Feed(peer domain.ConnectionID) core.FrameSource
}

// LocalFeeds lists feeds of locally captured video.
type LocalFeeds interface {
	LocalFeeds() []core.FrameSource
}

// Focus reports the peer shown as the primary stream, empty for local.
type Focus interface {
	FocusedPeer() domain.ConnectionID
}

type Options struct {
	MaxWidth int
	Quality  int
}

type Service struct {
	remote RemoteFeeds
	local  LocalFeeds
	focus  Focus
	opts   Options
}

func NewService(remote RemoteFeeds, local LocalFeeds, focus Focus, opts Options) (*Service, error) {
	if opts.MaxWidth == 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.Quality == 0 {
		opts.Quality = DefaultQuality
	}
	if opts.MaxWidth < 0 || opts.Quality < 1 || opts.Quality > 100 {
		return nil, fmt.Errorf("%w: max width %d, quality %d", ErrInvalidOptions, opts.MaxWidth, opts.Quality)
	}
	return &Service{remote: remote, local: local, focus: focus, opts: opts}, nil
}

// CaptureFrom encodes the current frame. The primary stream wins, then
// target, then any local feed. Returns nil, nil while nothing has decoded.
func (s *Service) CaptureFrom(target string) (*CapturedImage, error) {
	frame := s.resolve(target)
	if frame == nil {
		log.Debug().Str("module", "capture").Str("target", target).Msg("no frame available")
		return nil, nil
	}
	return encode(frame, s.opts)
}

func (s *Service) resolve(target string) image.Image {
	primary := s.primary()
	if f := latest(primary); f != nil {
		return f
	}
	if f := latest(s.feedOf(target)); f != nil {
		return f
	}
	for _, feed := range s.localFeeds() {
		if f := latest(feed); f != nil {
			return f
		}
	}
	return nil
}

// primary mirrors the focused peer's stream. A focused peer without a
// stream, or no focus at all, leaves the local stream as primary.
func (s *Service) primary() core.FrameSource {
	if s.focus != nil {
		if peer := s.focus.FocusedPeer(); peer != "" {
			if f := s.feedOf(string(peer)); f != nil {
				return f
			}
		}
	}
	return s.feedOf(TargetLocal)
}

func (s *Service) feedOf(target string) core.FrameSource {
	if target == "" {
		return nil
	}
	if target == TargetLocal {
		if feeds := s.localFeeds(); len(feeds) > 0 {
			return feeds[0]
		}
		return nil
	}
	if s.remote == nil {
		return nil
	}
	return s.remote.Feed(domain.ConnectionID(target))
}

func (s *Service) localFeeds() []core.FrameSource {
	if s.local == nil {
		return nil
	}
	return s.local.LocalFeeds()
}

func latest(f core.FrameSource) image.Image {
	if f == nil {
		return nil
	}
	img := f.LatestFrame()
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	return img
}

func encode(src image.Image, opts Options) (*CapturedImage, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > opts.MaxWidth {
		h = max(1, h*opts.MaxWidth/w)
		w = opts.MaxWidth
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &CapturedImage{Data: buf.Bytes(), MIME: mimeJPEG, Width: w, Height: h}, nil
}
