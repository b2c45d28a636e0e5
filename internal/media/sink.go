package media

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/1ureka/duocall/internal/util"
)

// LogSink is the headless renderer: it logs what would be shown and reads
// remote RTP so the receive pipeline keeps flowing.
type LogSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (s *LogSink) ShowLocal(tracks *TrackSet) {
	for _, t := range tracks.Tracks() {
		util.LogInfo("Local preview: %s track %s (enabled=%t)", t.Kind(), t.ID(), t.Enabled())
	}
}

func (s *LogSink) ShowRemote(track RemoteTrack) {
	util.LogSuccess("Remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
	go s.drain(track)
}

// Packets returns the number of remote RTP packets read so far.
func (s *LogSink) Packets() uint64 { return s.packets.Load() }

// Bytes returns the remote RTP payload bytes read so far.
func (s *LogSink) Bytes() uint64 { return s.bytes.Load() }

func (s *LogSink) drain(track RemoteTrack) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote %s track %s ended: %v", track.Kind(), track.ID(), err)
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}
