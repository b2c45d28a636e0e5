// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Role represents which side of the offer/answer exchange this participant takes.
type Role string

const (
	RoleCaller Role = "caller" // sends the first offer as soon as the channel opens
	RoleCallee Role = "callee" // waits for the remote offer
	RoleAuto   Role = "auto"   // sends the first offer once the relay reports the other peer
)

// Codec names accepted for the signaling channel framing.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// Default configuration values.
const (
	DefaultServerURL     = "ws://127.0.0.1:8080"
	DefaultListenAddr    = ":8080"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultDisconnected  = 30 * time.Second
	DefaultFailed        = 120 * time.Second
	DefaultKeepAlive     = 2 * time.Second
	DefaultStatsInterval = 10 * time.Second
)

var (
	ErrMissingRoom  = errors.New("room id is required")
	ErrInvalidRole  = errors.New("role must be caller, callee or auto")
	ErrInvalidCodec = errors.New("codec must be json or msgpack")
)

// Config stores all parameters for one run of the tool, either as a call
// participant (join) or as the signaling relay (serve).
type Config struct {
	Role      Role
	RoomID    string
	ServerURL string // base URL of the relay, e.g. ws://host:8080
	Listen    string // relay listen address
	Codec     string

	Video     bool
	Audio     bool
	VideoFile string // IVF (VP8) file used as the local camera
	AudioFile string // Ogg (Opus) file used as the local microphone

	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepAliveInterval   time.Duration
	MulticastDNS           bool

	StatsInterval time.Duration
	Debug         bool
}

// Options carries CLI flag values. Empty strings fall through to the
// environment and then to defaults.
type Options struct {
	Role      string
	RoomID    string
	ServerURL string
	Listen    string
	Codec     string

	NoVideo   bool
	NoAudio   bool
	VideoFile string
	AudioFile string

	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	MulticastDNS bool
	Debug        bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Role:      Role(pick(opts.Role, "DUOCALL_ROLE", string(RoleAuto))),
		RoomID:    pick(opts.RoomID, "DUOCALL_ROOM", ""),
		ServerURL: strings.TrimRight(pick(opts.ServerURL, "DUOCALL_SERVER", DefaultServerURL), "/"),
		Listen:    pick(opts.Listen, "DUOCALL_LISTEN", DefaultListenAddr),
		Codec:     strings.ToLower(pick(opts.Codec, "DUOCALL_CODEC", CodecJSON)),

		Video:     !opts.NoVideo,
		Audio:     !opts.NoAudio,
		VideoFile: pick(opts.VideoFile, "DUOCALL_VIDEO_FILE", ""),
		AudioFile: pick(opts.AudioFile, "DUOCALL_AUDIO_FILE", ""),

		STUNServers: splitList(pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN)),
		TURNServers: splitList(pick(opts.TURNServer, "TURN_SERVER", "")),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", ""),

		ICEDisconnectedTimeout: DefaultDisconnected,
		ICEFailedTimeout:       DefaultFailed,
		ICEKeepAliveInterval:   DefaultKeepAlive,
		MulticastDNS:           opts.MulticastDNS,

		StatsInterval: DefaultStatsInterval,
		Debug:         opts.Debug || os.Getenv("DUOCALL_DEBUG") == "1",
	}

	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.ServerURL, err)
	}

	return cfg, nil
}

// Validate checks the fields needed to join a call.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleCaller, RoleCallee, RoleAuto:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}

	switch c.Codec {
	case CodecJSON, CodecMsgpack:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCodec, c.Codec)
	}

	if strings.TrimSpace(c.RoomID) == "" {
		return ErrMissingRoom
	}
	return nil
}

// WebSocketURL returns the relay endpoint for the configured room.
func (c *Config) WebSocketURL() string {
	return fmt.Sprintf("%s/api/room/v1/%s/ws", c.ServerURL, url.PathEscape(c.RoomID))
}

// ICEServers returns the STUN and TURN servers in pion form. TURN entries
// carry the configured credentials.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// pick returns the flag value, then the env value, then def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
