package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a minimal IVF file with frames of fake payload.
func writeIVF(t *testing.T, fourCC string, frames int) string {
	t.Helper()
	buf := make([]byte, 32)
	copy(buf[0:4], "DKIF")
	binary.LittleEndian.PutUint16(buf[4:], 0)
	binary.LittleEndian.PutUint16(buf[6:], 32)
	copy(buf[8:12], fourCC)
	binary.LittleEndian.PutUint16(buf[12:], 640)
	binary.LittleEndian.PutUint16(buf[14:], 480)
	binary.LittleEndian.PutUint32(buf[16:], 100) // timebase denominator
	binary.LittleEndian.PutUint32(buf[20:], 1)   // timebase numerator
	binary.LittleEndian.PutUint32(buf[24:], uint32(frames))

	for i := 0; i < frames; i++ {
		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr[0:], 4)
		binary.LittleEndian.PutUint64(hdr[4:], uint64(i))
		buf = append(buf, hdr...)
		buf = append(buf, 0x10, 0x02, 0x00, byte(i))
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestFileSourceRequiresATrack(t *testing.T) {
	_, err := (&FileSource{}).Acquire(context.Background(), false, false)
	assert.ErrorIs(t, err, ErrMediaAccessDenied)
}

func TestFileSourceWithoutFiles(t *testing.T) {
	set, err := (&FileSource{}).Acquire(context.Background(), true, true)
	require.NoError(t, err)
	defer set.Stop()

	require.NotNil(t, set.Video)
	require.NotNil(t, set.Audio)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, set.Video.Kind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, set.Audio.Kind())
	assert.EqualValues(t, 0, set.Video.Written())
}

func TestFileSourceUnreadable(t *testing.T) {
	cases := map[string]FileSource{
		"missing video": {VideoPath: filepath.Join(t.TempDir(), "nope.ivf")},
		"wrong codec":   {VideoPath: writeIVF(t, "H264", 1)},
		"missing audio": {AudioPath: filepath.Join(t.TempDir(), "nope.ogg")},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := src.Acquire(context.Background(), true, true)
			assert.ErrorIs(t, err, ErrMediaAccessDenied)
		})
	}
}

func TestFileSourcePlaysIVF(t *testing.T) {
	src := &FileSource{VideoPath: writeIVF(t, "VP80", 3)}
	set, err := src.Acquire(context.Background(), true, false)
	require.NoError(t, err)
	defer set.Stop()

	assert.Nil(t, set.Audio)
	assert.Equal(t, webrtc.MimeTypeVP8, set.Video.local.Codec().MimeType)
	require.Eventually(t, func() bool { return set.Video.Written() >= 4 },
		2*time.Second, 10*time.Millisecond, "playback should loop past the last frame")

	set.Stop()
	time.Sleep(50 * time.Millisecond)
	n := set.Video.Written()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, set.Video.Written())
}

func TestFileSourceOpensOgg(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := oggwriter.NewWith(f, 48000, 2)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	set, err := (&FileSource{AudioPath: path}).Acquire(context.Background(), false, true)
	require.NoError(t, err)
	defer set.Stop()

	assert.Nil(t, set.Video)
	assert.Equal(t, webrtc.MimeTypeOpus, set.Audio.local.Codec().MimeType)
}

func TestFileSourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&FileSource{}).Acquire(ctx, true, true)
	assert.ErrorIs(t, err, context.Canceled)
}
