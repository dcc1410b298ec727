package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/fleetcall/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultPLIInterval = 2 * time.Second

// CodecSource fills a media engine with the codecs local capture encodes.
type CodecSource interface {
	Populate(*webrtc.MediaEngine)
}

type Options struct {
	ICEServers  []string
	PLIInterval time.Duration
	// Codecs is nil for a receive-only stack; pion's defaults are used.
	Codecs CodecSource
}

// Factory opens peer connections that share one configured pion API.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(opts Options) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	if opts.Codecs != nil {
		opts.Codecs.Populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	if opts.PLIInterval <= 0 {
		opts.PLIInterval = DefaultPLIInterval
	}
	pli, err := intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(opts.PLIInterval))
	if err != nil {
		return nil, fmt.Errorf("pli interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	log.Info().Str("module", "rtc").Strs("ice_servers", opts.ICEServers).Dur("pli_interval", opts.PLIInterval).Msg("webrtc api ready")
	return &Factory{api: api, cfg: cfg}, nil
}

// New satisfies peer.ConnFactory.
func (f *Factory) New() (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	return newConnection(pc), nil
}
