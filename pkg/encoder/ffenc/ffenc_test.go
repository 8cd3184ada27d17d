package ffenc

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"mediarec/pkg/encoder"
	"mediarec/pkg/ffmpeg"

	"github.com/stretchr/testify/require"
)

// TestFakeProcess acts as ffmpeg. Stdin is copied to the output
// file, a remux copies the input and the audio mux writes "muxed".
func TestFakeProcess(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	if os.Getenv("FAIL") == "1" {
		os.Exit(1)
	}

	var args []string
	for i, arg := range os.Args {
		if arg == "--" {
			args = os.Args[i+1:]
			break
		}
	}
	output := args[len(args)-1]

	file, err := os.Create(output)
	if err != nil {
		os.Exit(2)
	}
	defer file.Close()

	var input io.Reader = os.Stdin
	switch {
	case contains(args, "f32le"):
		file.WriteString("muxed") //nolint:errcheck
		return
	case contains(args, "copy"):
		in, err := os.Open(args[index(args, "-i")+1])
		if err != nil {
			os.Exit(4)
		}
		defer in.Close()
		input = in
	}
	if _, err := io.Copy(file, input); err != nil {
		os.Exit(3)
	}
}

func contains(args []string, s string) bool {
	return index(args, s) != -1
}

func index(args []string, s string) int {
	for i, arg := range args {
		if arg == s {
			return i
		}
	}
	return -1
}

func fakeFFmpeg(env ...string) *ffmpeg.FFMPEG {
	return ffmpeg.NewWithCommand(func(args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestFakeProcess", "--"}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append([]string{"GO_TEST_PROCESS=1"}, env...)
		return cmd
	})
}

func discardLog(string) {}

type testEncoder struct {
	*Encoder
	path    string
	tempDir string
}

func newTestEncoder(t *testing.T, config encoder.VideoConfig, env ...string) testEncoder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mp4")
	tempDir := filepath.Join(t.TempDir(), "temp")
	e, err := New(
		context.Background(), fakeFFmpeg(env...), H264, path, tempDir, config, discardLog)
	require.NoError(t, err)
	return testEncoder{Encoder: e, path: path, tempDir: tempDir}
}

type mockProcess struct {
	err error
}

func (p *mockProcess) Start(context.Context) error    { return p.err }
func (p *mockProcess) SetTimeout(time.Duration)       {}
func (p *mockProcess) SetPrefix(string)               {}
func (p *mockProcess) SetStdoutLogger(ffmpeg.LogFunc) {}
func (p *mockProcess) SetStderrLogger(ffmpeg.LogFunc) {}

func frame(width, height int) []byte {
	return make([]byte, width*height*4)
}

func requireNoTemp(t *testing.T, e testEncoder) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(e.path))
	require.NoError(t, err)
	for _, entry := range entries {
		require.Equal(t, filepath.Base(e.path), entry.Name())
	}
	entries, err = os.ReadDir(e.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestEncoder(t *testing.T) {
	t.Run("videoOnly", func(t *testing.T) {
		config := encoder.VideoConfig{Width: 4, Height: 2, FrameRate: 10}
		e := newTestEncoder(t, config)

		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(4, 2), 0))
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(4, 2), 100_000_000))
		// Gap of one frame.
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(4, 2), 300_000_000))
		// Same slot, dropped.
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(4, 2), 320_000_000))

		actual, err := e.Finish()
		require.NoError(t, err)
		require.Equal(t, e.path, actual)

		info, err := os.Stat(e.path)
		require.NoError(t, err)
		require.Equal(t, int64(4*4*2*4), info.Size())
		requireNoTemp(t, e)
	})
	t.Run("timestampJump", func(t *testing.T) {
		var logs []string
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 10, KeyframeInterval: 0.5,
		}
		e := newTestEncoder(t, config)
		e.logf = func(msg string) { logs = append(logs, msg) }

		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(2, 2), 0))
		// Slot 1000 of a 5 frame keyframe interval.
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(2, 2), 100_000_000_000))
		require.Equal(t, []string{"h264: skipped 994 frames, timestamp 100000000000"}, logs)
		// Back on the grid.
		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(2, 2), 100_100_000_000))

		_, err := e.Finish()
		require.NoError(t, err)

		info, err := os.Stat(e.path)
		require.NoError(t, err)
		require.Equal(t, int64((1+6+1)*16), info.Size())
	})
	t.Run("withAudio", func(t *testing.T) {
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 30,
			SampleRate: 44100, ChannelCount: 2,
		}
		e := newTestEncoder(t, config)

		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(2, 2), 0))
		require.Equal(t, encoder.StatusOK, e.CommitSamples(make([]float32, 512), 0))

		// Partial files stay out of the recordings directory.
		entries, err := os.ReadDir(e.tempDir)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		_, err = os.Stat(e.path + ".pcm")
		require.ErrorIs(t, err, os.ErrNotExist)

		actual, err := e.Finish()
		require.NoError(t, err)
		require.Equal(t, e.path, actual)

		data, err := os.ReadFile(e.path)
		require.NoError(t, err)
		require.Equal(t, "muxed", string(data))
		requireNoTemp(t, e)
	})
	t.Run("audioWithoutSamples", func(t *testing.T) {
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 30,
			SampleRate: 44100, ChannelCount: 1,
		}
		e := newTestEncoder(t, config)

		require.Equal(t, encoder.StatusOK, e.CommitFrame(frame(2, 2), 0))

		_, err := e.Finish()
		require.NoError(t, err)

		info, err := os.Stat(e.path)
		require.NoError(t, err)
		require.Equal(t, int64(16), info.Size())
		requireNoTemp(t, e)
	})
	t.Run("ffmpegFailed", func(t *testing.T) {
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 30,
			SampleRate: 44100, ChannelCount: 1,
		}
		e := newTestEncoder(t, config, "FAIL=1")

		e.CommitFrame(frame(2, 2), 0)
		e.CommitSamples([]float32{0.1}, 0)

		_, err := e.Finish()
		require.Error(t, err)

		entries, err := os.ReadDir(filepath.Dir(e.path))
		require.NoError(t, err)
		require.Empty(t, entries)
		entries, err = os.ReadDir(e.tempDir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
	t.Run("muxFailed", func(t *testing.T) {
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 30,
			SampleRate: 44100, ChannelCount: 1,
		}
		e := newTestEncoder(t, config)
		e.newProcess = func(*exec.Cmd) ffmpeg.Process {
			return &mockProcess{err: errors.New("mock")}
		}

		e.CommitFrame(frame(2, 2), 0)
		e.CommitSamples([]float32{0.1}, 0)

		_, err := e.Finish()
		require.Error(t, err)
		require.Contains(t, err.Error(), "mux: mock")
		requireNoTemp(t, e)
		_, err = os.Stat(e.path)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("noFrames", func(t *testing.T) {
		config := encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 30}
		e := newTestEncoder(t, config)

		_, err := e.Finish()
		require.ErrorIs(t, err, ErrNoFrames)
		requireNoTemp(t, e)
	})
	t.Run("invalidArguments", func(t *testing.T) {
		config := encoder.VideoConfig{Width: 2, Height: 2, FrameRate: 30}
		e := newTestEncoder(t, config)

		require.Equal(t, encoder.StatusInvalidArgument, e.CommitFrame(make([]byte, 3), 0))
		require.Equal(t, encoder.StatusNotImplemented, e.CommitSamples([]float32{0}, 0))

		w, h := e.FrameSize()
		require.Equal(t, 2, w)
		require.Equal(t, 2, h)

		e.CommitFrame(frame(2, 2), 0)
		_, err := e.Finish()
		require.NoError(t, err)
	})
	t.Run("interleavedChannels", func(t *testing.T) {
		config := encoder.VideoConfig{
			Width: 2, Height: 2, FrameRate: 30,
			SampleRate: 48000, ChannelCount: 2,
		}
		e := newTestEncoder(t, config)

		require.Equal(t, encoder.StatusInvalidArgument, e.CommitSamples(make([]float32, 3), 0))

		e.CommitFrame(frame(2, 2), 0)
		_, err := e.Finish()
		require.NoError(t, err)
	})
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(
		context.Background(),
		fakeFFmpeg(),
		H264,
		filepath.Join(t.TempDir(), "test.mp4"),
		t.TempDir(),
		encoder.VideoConfig{Width: 2, Height: 2},
		discardLog,
	)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestArgs(t *testing.T) {
	e := &Encoder{
		codec: HEVC,
		config: encoder.VideoConfig{
			Width: 640, Height: 480, FrameRate: 30,
			SampleRate: 48000, ChannelCount: 2,
			VideoBitRate: 10_000_000, KeyframeInterval: 2, AudioBitRate: 64_000,
		},
		path:      "a.mp4",
		videoPath: "tmp/a.mp4.video",
		audioPath: "tmp/a.mp4.pcm",
	}

	video := []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-s", "640x480", "-r", "30",
		"-i", "-", "-an",
		"-c:v", "libx265", "-b:v", "10000000", "-g", "60", "-tag:v", "hvc1",
		"-pix_fmt", "yuv420p", "-f", "mp4", "tmp/a.mp4.video",
	}
	require.Equal(t, video, e.videoArgs())

	remux := []string{
		"-y", "-loglevel", "error",
		"-i", "tmp/a.mp4.video",
		"-c", "copy",
		"-f", "mp4", "a.mp4",
	}
	require.Equal(t, remux, e.muxArgs())

	e.audioSamples = 1024
	mux := []string{
		"-y", "-loglevel", "error",
		"-i", "tmp/a.mp4.video",
		"-f", "f32le", "-ar", "48000", "-ac", "2", "-i", "tmp/a.mp4.pcm",
		"-c:v", "copy", "-c:a", "aac", "-b:a", "64000",
		"-f", "mp4", "a.mp4",
	}
	require.Equal(t, mux, e.muxArgs())
	require.Equal(t, int64(60), e.maxGap())
}

func TestFrameSlot(t *testing.T) {
	cases := []struct {
		elapsed  int64
		rate     float64
		expected int64
	}{
		{0, 30, 0},
		{33_333_333, 30, 1},
		{16_000_000, 30, 0},
		{17_000_000, 30, 1},
		{1_000_000_000, 24, 24},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, frameSlot(tc.elapsed, tc.rate))
	}
}
