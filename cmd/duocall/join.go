package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/1ureka/duocall/internal/app"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

var joinOpts config.Options

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a call in a room",
	Long: `Join the two-party call in <room>. The caller sends the first offer,
the callee waits for it, and auto lets whoever joined first call.

While the call runs on a terminal, type v or a and press enter to toggle
video or audio, or q to hang up.

Examples:
  duocall join r1
  duocall join r1 --role caller --server ws://relay.example.com:8080
  duocall join r1 --video-file clip.ivf --audio-file voice.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := joinOpts
		opts.RoomID = args[0]
		opts.Debug = flagDebug

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if opts.Role == "" && os.Getenv("DUOCALL_ROLE") == "" && interactive {
			opts.Role = askRole()
		}

		cfg, err := config.Load(opts)
		if err != nil {
			return err
		}
		if cfg.Debug {
			util.EnableDebug()
		}
		return runJoin(cmd.Context(), cfg, interactive)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&joinOpts.Role, "role", "", "Role: caller, callee or auto")
	f.StringVar(&joinOpts.ServerURL, "server", "", "Relay URL (default "+config.DefaultServerURL+")")
	f.StringVar(&joinOpts.Codec, "codec", "", "Signaling codec: json or msgpack")
	f.BoolVar(&joinOpts.NoVideo, "no-video", false, "Do not send video")
	f.BoolVar(&joinOpts.NoAudio, "no-audio", false, "Do not send audio")
	f.StringVar(&joinOpts.VideoFile, "video-file", "", "IVF file looped as the camera")
	f.StringVar(&joinOpts.AudioFile, "audio-file", "", "Ogg/Opus file looped as the microphone")
	f.StringVar(&joinOpts.STUNServer, "stun", "", "Comma-separated STUN URLs")
	f.StringVar(&joinOpts.TURNServer, "turn", "", "Comma-separated TURN URLs")
	f.StringVar(&joinOpts.TURNUser, "turn-user", "", "TURN username")
	f.StringVar(&joinOpts.TURNPass, "turn-pass", "", "TURN password")
	f.BoolVar(&joinOpts.MulticastDNS, "mdns", false, "Gather and resolve mDNS host candidates")
}

// runJoin keeps the call up until it ends or the user hangs up.
func runJoin(ctx context.Context, cfg *config.Config, interactive bool) error {
	if !interactive {
		return app.Join(ctx, cfg)
	}

	ctx, hangUp := context.WithCancel(ctx)
	defer hangUp()

	call, err := app.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	util.LogSuccess("joined room %s, waiting for the other peer", cfg.RoomID)

	util.StartStatsReporter(ctx, cfg.StatsInterval)
	go readControls(call, hangUp)

	err = call.Wait(ctx)
	util.LogInfo("call ended: %d RTP packets received", call.Sink().Packets())
	return err
}

// readControls maps single-letter commands on stdin to call actions.
func readControls(call *app.Call, hangUp context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var (
			on  bool
			err error
		)
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "v":
			on, err = call.ToggleVideo()
			report("video", on, err)
		case "a":
			on, err = call.ToggleAudio()
			report("audio", on, err)
		case "q":
			hangUp()
			return
		case "":
		default:
			util.LogWarning("unknown command: use v, a or q")
		}
	}
}

func report(kind string, on bool, err error) {
	switch {
	case err != nil:
		util.LogWarning("failed to toggle %s: %v", kind, err)
	case on:
		util.LogInfo("%s on", kind)
	default:
		util.LogInfo("%s off", kind)
	}
}

// askRole prompts for the role when none was given.
func askRole() string {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Auto   - Whoever joined the room first calls",
			"Caller - Send the offer as soon as connected",
			"Callee - Wait for the other peer's offer",
		}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Caller"):
		return string(config.RoleCaller)
	case strings.HasPrefix(choice, "Callee"):
		return string(config.RoleCallee)
	}
	return string(config.RoleAuto)
}
