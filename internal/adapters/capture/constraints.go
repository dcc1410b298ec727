package capture

import (
	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
)

// rawFormats leaves out MJPEG; some cameras emit frames the VP8 encoder
// cannot digest.
var rawFormats = prop.FrameFormatOneOf{
	frame.FormatYUYV,
	frame.FormatI420,
	frame.FormatI444,
	frame.FormatRGBA,
}

func intRange(r core.IntRange) prop.IntRanged {
	return prop.IntRanged{Min: r.Min, Ideal: r.Ideal, Max: r.Max}
}

func floatRange(r core.FloatRange) prop.FloatRanged {
	return prop.FloatRanged{Min: r.Min, Ideal: r.Ideal, Max: r.Max}
}

func applyVideo(mc *mediadevices.MediaTrackConstraints, v core.VideoConstraints) {
	mc.FrameFormat = rawFormats
	mc.Width = intRange(v.Width)
	mc.Height = intRange(v.Height)
	mc.FrameRate = floatRange(v.FrameRate)
}

func applyDisplay(mc *mediadevices.MediaTrackConstraints, d core.DisplayConstraints) {
	mc.FrameRate = floatRange(d.FrameRate)
}

// streamConstraints maps c onto mediadevices. Audio processing flags
// have no counterpart there and are only reported.
func streamConstraints(c core.MediaConstraints, codecs *mediadevices.CodecSelector) mediadevices.MediaStreamConstraints {
	out := mediadevices.MediaStreamConstraints{Codec: codecs}
	if c.Video != nil {
		v := *c.Video
		out.Video = func(mc *mediadevices.MediaTrackConstraints) { applyVideo(mc, v) }
	}
	if c.Audio != nil {
		out.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	return out
}
