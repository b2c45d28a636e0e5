// Package app contains the top-level orchestration for a call participant
// and for the room relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/negotiation"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/transport"
	"github.com/1ureka/duocall/internal/util"
)

// Call is one participant of a two-party call: a signaling channel, a pion
// transport and the negotiation engine driving both.
type Call struct {
	cfg    *config.Config
	ch     *signaling.Channel
	engine *negotiation.Engine
	sink   *media.LogSink

	endOnce sync.Once
	ended   chan struct{}
	reason  error
}

// Dial connects to the relay and readies the engine for cfg.Role. The
// caller starts as soon as the channel opens, so it expects the callee to
// be in the room already; auto starts when the relay reports the other peer.
func Dial(ctx context.Context, cfg *config.Config) (*Call, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := signaling.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(transport.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ch := signaling.NewChannel(cfg.RoomID, signaling.WithCodec(codec))
	engine, err := negotiation.New(negotiation.Config{
		RoomID:    cfg.RoomID,
		Transport: tr,
		Sender:    ch,
		Source:    &media.FileSource{VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile},
		Video:     cfg.Video,
		Audio:     cfg.Audio,
	})
	if err != nil {
		tr.Close()
		return nil, err
	}

	c := &Call{
		cfg:    cfg,
		ch:     ch,
		engine: engine,
		sink:   &media.LogSink{},
		ended:  make(chan struct{}),
	}

	engine.AttachLocalPreview(c.sink)
	engine.AttachRemoteView(c.sink)
	engine.OnConnectionClosed(func(reason error) {
		c.end(reason)
		go ch.Close()
	})

	ch.OnMessage(c.route)
	ch.OnClose(func(err error) {
		if err != nil {
			c.end(fmt.Errorf("%w: %v", signaling.ErrChannelClosed, err))
		}
		go engine.Close()
	})
	if cfg.Role == config.RoleCaller {
		ch.OnOpen(func() { go c.start("channel open") })
	}

	util.LogInfo("joining room %s as %s", cfg.RoomID, cfg.Role)
	if err := ch.Open(ctx, cfg.WebSocketURL()); err != nil {
		engine.Close()
		return nil, err
	}
	return c, nil
}

// route hands negotiation traffic to the engine and acts on relay control
// messages. Runs on the channel's read goroutine, one message at a time.
func (c *Call) route(msg signaling.Message) {
	switch msg.Type {
	case signaling.MsgTypePeerJoined:
		util.LogInfo("[%s] peer joined", c.cfg.RoomID)
		if c.cfg.Role == config.RoleAuto {
			c.start("peer joined")
		}

	case signaling.MsgTypeRoomFull:
		util.LogError("[%s] room is full", c.cfg.RoomID)
		c.end(signaling.ErrRoomFull)
		go c.engine.Close()

	default:
		// Failures are reported by the engine itself.
		c.engine.HandleMessage(msg)
	}
}

func (c *Call) start(why string) {
	util.LogDebug("[%s] starting negotiation (%s)", c.cfg.RoomID, why)
	if err := c.engine.Start(); err != nil && !errors.Is(err, negotiation.ErrSessionClosed) {
		util.LogWarning("[%s] failed to start call: %v", c.cfg.RoomID, err)
	}
}

// end records the first reason the call ended.
func (c *Call) end(reason error) {
	c.endOnce.Do(func() {
		c.reason = reason
		close(c.ended)
	})
}

// Engine exposes the negotiation engine, mainly for state inspection.
func (c *Call) Engine() *negotiation.Engine { return c.engine }

// Sink returns the sink showing local and remote media.
func (c *Call) Sink() *media.LogSink { return c.sink }

// ToggleVideo flips the local camera.
func (c *Call) ToggleVideo() (bool, error) { return c.engine.ToggleLocalVideo() }

// ToggleAudio flips the local microphone.
func (c *Call) ToggleAudio() (bool, error) { return c.engine.ToggleLocalAudio() }

// HangUp tells the remote peer and tears the call down. Idempotent.
func (c *Call) HangUp() error {
	if err := c.ch.Send(signaling.Message{Type: signaling.MsgTypeLeave}); err != nil &&
		!errors.Is(err, signaling.ErrChannelClosed) {
		util.LogWarning("[%s] failed to send leave: %v", c.cfg.RoomID, err)
	}
	c.end(nil)

	// Closing the channel flushes the leave before the peer connection goes
	// down, so the remote usually learns of the hang-up from the relay first.
	chErr := c.ch.Close()
	return errors.Join(c.engine.Close(), chErr)
}

// Wait blocks until the call ends or ctx is cancelled, in which case it
// hangs up. Returns nil for a local hang-up or a remote leave.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		c.HangUp()
	case <-c.ended:
		c.engine.Close()
		c.ch.Close()
	}

	if c.reason == nil || errors.Is(c.reason, negotiation.ErrRemoteHangup) {
		return nil
	}
	return c.reason
}

// Join runs one call participant until it ends or ctx is cancelled.
func Join(ctx context.Context, cfg *config.Config) error {
	c, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}

	statsCtx, stop := context.WithCancel(ctx)
	defer stop()
	util.StartStatsReporter(statsCtx, cfg.StatsInterval)

	err = c.Wait(ctx)
	util.LogInfo("call ended: %d RTP packets received", c.sink.Packets())
	return err
}
