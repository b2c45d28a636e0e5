package transport

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

// Options configures the peer connections created by this package.
type Options struct {
	ICEServers []webrtc.ICEServer

	// ICE liveness. Applied only when all three are set.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// MulticastDNS hides host candidates behind .local names.
	MulticastDNS bool
}

// OptionsFromConfig maps the call configuration onto transport options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ICEServers:          cfg.ICEServers(),
		DisconnectedTimeout: cfg.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.ICEFailedTimeout,
		KeepAliveInterval:   cfg.ICEKeepAliveInterval,
		MulticastDNS:        cfg.MulticastDNS,
	}
}

// newAPI builds a pion API with the default audio/video codecs, the default
// interceptor chain (NACK, RTCP reports, TWCC) and our setting engine.
func newAPI(opts Options) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = util.PionLoggerFactory{}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 && opts.KeepAliveInterval > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAliveInterval)
	}
	if opts.MulticastDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// newPeerConnection creates a PeerConnection on api with the configured ICE
// servers.
func newPeerConnection(api *webrtc.API, opts Options) (*webrtc.PeerConnection, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: opts.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}
