package mp4enc

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediarec/pkg/encoder"

	"github.com/stretchr/testify/require"
)

type box struct {
	typ     string
	payload []byte
	offset  int
}

func readBoxes(t *testing.T, b []byte, base int) []box {
	var boxes []box
	for pos := 0; pos < len(b); {
		require.GreaterOrEqual(t, len(b)-pos, 8)
		size := int(binary.BigEndian.Uint32(b[pos:]))
		require.GreaterOrEqual(t, size, 8)
		require.LessOrEqual(t, pos+size, len(b))
		boxes = append(boxes, box{
			typ:     string(b[pos+4 : pos+8]),
			payload: b[pos+8 : pos+size],
			offset:  base + pos,
		})
		pos += size
	}
	return boxes
}

func findBox(t *testing.T, b []byte, path ...string) []byte {
	for _, name := range path {
		found := false
		for _, child := range readBoxes(t, b, 0) {
			if child.typ == name {
				b = child.payload
				found = true
				break
			}
		}
		require.True(t, found, "box %v not found", name)
	}
	return b
}

func findTrak(t *testing.T, moov []byte, handler string) []byte {
	for _, child := range readBoxes(t, moov, 0) {
		if child.typ != "trak" {
			continue
		}
		hdlr := findBox(t, child.payload, "mdia", "hdlr")
		if string(hdlr[8:12]) == handler {
			return child.payload
		}
	}
	t.Fatalf("trak %v not found", handler)
	return nil
}

func newTestEncoder(t *testing.T, config encoder.VideoConfig) (*Encoder, string) {
	path := filepath.Join(t.TempDir(), "test.mp4")
	e, err := New(path, config)
	require.NoError(t, err)
	return e, path
}

func TestEncoder(t *testing.T) {
	t.Run("videoAndAudio", func(t *testing.T) {
		e, path := newTestEncoder(t, encoder.VideoConfig{
			Width:        4,
			Height:       2,
			FrameRate:    30,
			SampleRate:   48000,
			ChannelCount: 2,
		})

		frame := make([]byte, 4*2*4)
		ms := int64(time.Millisecond)
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame, 0))
		require.Equal(t, encoder.StatusOK, e.CommitSamples(make([]float32, 960), 0))
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame, 40*ms))
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame, 80*ms))
		require.Equal(t, encoder.StatusOK, e.CommitSamples(make([]float32, 960), 0))
		require.Equal(t, encoder.StatusInvalidArgument, e.CommitSamples(make([]float32, 3), 0))
		require.Equal(t, encoder.StatusInvalidArgument, e.CommitFrame(frame[1:], 0))

		actual, err := e.Finish()
		require.NoError(t, err)
		require.Equal(t, path, actual)

		file, err := os.ReadFile(path)
		require.NoError(t, err)

		top := readBoxes(t, file, 0)
		require.Len(t, top, 3)
		require.Equal(t, "ftyp", top[0].typ)
		require.Equal(t, "mdat", top[1].typ)
		require.Equal(t, "moov", top[2].typ)
		moov := top[2].payload

		// Video.
		video := findTrak(t, moov, "vide")
		stbl := findBox(t, video, "mdia", "minf", "stbl")
		stsd := findBox(t, stbl, "stsd")
		require.Equal(t, "jpeg", string(stsd[12:16]))

		stts := findBox(t, stbl, "stts")
		require.Equal(t, []byte{
			0, 0, 0, 0, // Version, flags.
			0, 0, 0, 2, // Entry count.
			0, 0, 0, 2, 0, 0, 0x0e, 0x10, // 2 x 3600.
			0, 0, 0, 1, 0, 0, 0x0b, 0xb8, // 1 x 3000.
		}, stts)

		stsz := findBox(t, stbl, "stsz")
		require.Equal(t, uint32(3), binary.BigEndian.Uint32(stsz[8:]))

		// Frames 2 and 3 share a chunk.
		stco := findBox(t, stbl, "stco")
		require.Equal(t, uint32(2), binary.BigEndian.Uint32(stco[4:]))
		for i := 0; i < 2; i++ {
			offset := binary.BigEndian.Uint32(stco[8+i*4:])
			require.Equal(t, []byte{0xff, 0xd8}, file[offset:offset+2], "chunk %v", i)
		}

		// Audio.
		audio := findTrak(t, moov, "soun")
		stbl = findBox(t, audio, "mdia", "minf", "stbl")
		stsd = findBox(t, stbl, "stsd")
		require.Equal(t, "sowt", string(stsd[12:16]))

		stsz = findBox(t, stbl, "stsz")
		require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 4, 0, 0, 0x03, 0xc0}, stsz)

		mdhd := findBox(t, audio, "mdia", "mdhd")
		require.Equal(t, uint32(48000), binary.BigEndian.Uint32(mdhd[12:]))
		require.Equal(t, uint32(960), binary.BigEndian.Uint32(mdhd[16:]))

		// Audio chunks are silence.
		stco = findBox(t, stbl, "stco")
		require.Equal(t, uint32(2), binary.BigEndian.Uint32(stco[4:]))
		offset := binary.BigEndian.Uint32(stco[8:])
		require.Equal(t, make([]byte, 1920), file[offset:offset+1920])
	})
	t.Run("videoOnly", func(t *testing.T) {
		e, path := newTestEncoder(t, encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 25})

		require.Equal(t, encoder.StatusOK, e.CommitFrame(make([]byte, 16), 0))
		require.Equal(t, encoder.StatusNotImplemented, e.CommitSamples(make([]float32, 2), 0))

		_, err := e.Finish()
		require.NoError(t, err)

		file, err := os.ReadFile(path)
		require.NoError(t, err)

		moov := findBox(t, file, "moov")
		var traks int
		for _, child := range readBoxes(t, moov, 0) {
			if child.typ == "trak" {
				traks++
			}
		}
		require.Equal(t, 1, traks)

		stts := findBox(t, findTrak(t, moov, "vide"), "mdia", "minf", "stbl", "stts")
		require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0x0e, 0x10}, stts)
	})
	t.Run("nonMonotonic", func(t *testing.T) {
		e, _ := newTestEncoder(t, encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 25})
		require.Equal(t, encoder.StatusOK, e.CommitFrame(make([]byte, 16), 100))
		require.Equal(t, encoder.StatusOK, e.CommitFrame(make([]byte, 16), 50))
		require.Equal(t, uint32(1), e.videoStts[0].SampleDelta)
	})
	t.Run("noSamples", func(t *testing.T) {
		e, path := newTestEncoder(t, encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 25})

		_, err := e.Finish()
		require.ErrorIs(t, err, ErrNoSamples)
		require.NoFileExists(t, path)
	})
	t.Run("invalidConfig", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "test.mp4"), encoder.VideoConfig{Width: 2, Height: 2})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestNanoToTimescale(t *testing.T) {
	require.Equal(t, int64(90000), nanoToTimescale(int64(time.Second), VideoTimescale))
	require.Equal(t, int64(3600), nanoToTimescale(int64(40*time.Millisecond), VideoTimescale))
	require.Equal(t, int64(135000), nanoToTimescale(int64(1500*time.Millisecond), VideoTimescale))
}

func TestFtyp(t *testing.T) {
	e, path := newTestEncoder(t, encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 25})
	require.Equal(t, encoder.StatusOK, e.CommitFrame(make([]byte, 16), 0))
	_, err := e.Finish()
	require.NoError(t, err)

	file, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(file[4:], []byte("ftypisom")))
	require.Equal(t, int64(28), e.mdatStart)
}
