package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/duocall/internal/util"
)

const (
	oggPageDuration   = 20 * time.Millisecond
	opusSampleRate    = 48000
	defaultFrameDelay = 33 * time.Millisecond
)

var errNoFrames = errors.New("file holds no frames")

// FileSource plays IVF video and Ogg/Opus audio files as local tracks. A
// requested kind without a file gets a track that negotiates normally but
// never carries samples. Playback loops until the TrackSet is stopped.
type FileSource struct {
	VideoPath string
	AudioPath string
}

// Acquire opens the configured files and starts pacing their frames into
// the returned tracks.
func (s *FileSource) Acquire(ctx context.Context, video, audio bool) (*TrackSet, error) {
	if !video && !audio {
		return nil, fmt.Errorf("%w: no tracks requested", ErrMediaAccessDenied)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "duocall-" + uuid.NewString()[:8]
	set := &TrackSet{}
	var pumps []func(context.Context)

	if video {
		track, pump, err := openVideo(s.VideoPath, streamID)
		if err != nil {
			return nil, err
		}
		set.Video = track
		if pump != nil {
			pumps = append(pumps, pump)
		}
	}
	if audio {
		track, pump, err := openAudio(s.AudioPath, streamID)
		if err != nil {
			return nil, err
		}
		set.Audio = track
		if pump != nil {
			pumps = append(pumps, pump)
		}
	}

	// Playback outlives the acquiring call; it ends with the TrackSet.
	pumpCtx, cancel := context.WithCancel(context.Background())
	set.onStop = cancel
	for _, pump := range pumps {
		go pump(pumpCtx)
	}
	return set, nil
}

func openVideo(path, streamID string) (*Track, func(context.Context), error) {
	if path == "" {
		track, err := NewTrack(webrtc.RTPCodecTypeVideo,
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		return track, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	_, header, err := ivfreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMediaAccessDenied, path, err)
	}

	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	case "AV01":
		mime = webrtc.MimeTypeAV1
	default:
		return nil, nil, fmt.Errorf("%w: %s: unsupported video codec %q", ErrMediaAccessDenied, path, header.FourCC)
	}

	track, err := NewTrack(webrtc.RTPCodecTypeVideo, webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
	if err != nil {
		return nil, nil, err
	}

	delay := defaultFrameDelay
	if header.TimebaseDenominator != 0 {
		delay = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}
	util.LogDebug("video source %s: %s %dx%d, frame every %v", path, header.FourCC, header.Width, header.Height, delay)

	return track, func(ctx context.Context) { loopFile(ctx, path, func(r io.Reader) error { return playIVF(ctx, r, track, delay) }) }, nil
}

func openAudio(path, streamID string) (*Track, func(context.Context), error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusSampleRate, Channels: 2}
	if path == "" {
		track, err := NewTrack(webrtc.RTPCodecTypeAudio, codec, "audio", streamID)
		return track, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	_, header, err := oggreader.NewWith(f)
	f.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMediaAccessDenied, path, err)
	}

	track, err := NewTrack(webrtc.RTPCodecTypeAudio, codec, "audio", streamID)
	if err != nil {
		return nil, nil, err
	}
	util.LogDebug("audio source %s: %d ch @ %d Hz", path, header.Channels, header.SampleRate)

	return track, func(ctx context.Context) { loopFile(ctx, path, func(r io.Reader) error { return playOgg(ctx, r, track) }) }, nil
}

// loopFile replays path through play until ctx ends or play fails.
func loopFile(ctx context.Context, path string, play func(io.Reader) error) {
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			util.LogWarning("media source %s: %v", path, err)
			return
		}
		err = play(f)
		f.Close()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				util.LogWarning("media source %s stopped: %v", path, err)
			}
			return
		}
	}
}

func playIVF(ctx context.Context, r io.Reader, track *Track, delay time.Duration) error {
	ivf, _, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(delay)
	defer ticker.Stop()
	for n := 0; ; n++ {
		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return errNoFrames
			}
			return nil
		}
		if err != nil {
			return err
		}
		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: delay}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func playOgg(ctx context.Context, r io.Reader, track *Track) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	var lastGranule uint64
	for n := 0; ; n++ {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return errNoFrames
			}
			return nil
		}
		if err != nil {
			return err
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))
		if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
