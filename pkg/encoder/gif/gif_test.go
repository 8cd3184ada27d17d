package gif

import (
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"mediarec/pkg/encoder"

	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, r, g, b byte) []byte {
	pixels := make([]byte, w*h*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i] = r
		pixels[i+1] = g
		pixels[i+2] = b
		pixels[i+3] = 255
	}
	return pixels
}

func TestEncoder(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.gif")
		e, err := New(path, encoder.GIFConfig{Width: 4, Height: 2, FrameDelay: 0.1})
		require.NoError(t, err)

		w, h := e.FrameSize()
		require.Equal(t, 4, w)
		require.Equal(t, 2, h)

		require.Equal(t, encoder.StatusOK, e.CommitFrame(solidFrame(4, 2, 255, 0, 0), 0))
		require.Equal(t, encoder.StatusOK, e.CommitFrame(solidFrame(4, 2, 0, 0, 255), 0))
		require.Equal(t, encoder.StatusInvalidArgument, e.CommitFrame(make([]byte, 3), 0))
		require.Equal(t, encoder.StatusNotImplemented, e.CommitSamples([]float32{0}, 0))

		actual, err := e.Finish()
		require.NoError(t, err)
		require.Equal(t, path, actual)

		file, err := os.Open(path)
		require.NoError(t, err)
		defer file.Close()

		anim, err := gif.DecodeAll(file)
		require.NoError(t, err)
		require.Len(t, anim.Image, 2)
		require.Equal(t, []int{10, 10}, anim.Delay)
		require.Equal(t, 0, anim.LoopCount)

		r, g, b, _ := anim.Image[0].At(0, 0).RGBA()
		require.Equal(t, uint32(0xffff), r)
		require.Equal(t, uint32(0), g)
		require.Equal(t, uint32(0), b)
	})
	t.Run("noFrames", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.gif")
		e, err := New(path, encoder.GIFConfig{Width: 4, Height: 2})
		require.NoError(t, err)

		_, err = e.Finish()
		require.ErrorIs(t, err, ErrNoFrames)
		require.NoFileExists(t, path)
	})
	t.Run("invalidConfig", func(t *testing.T) {
		_, err := New("", encoder.GIFConfig{Width: 0, Height: 2})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}
