package backend

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"mediarec/pkg/encoder"
	"mediarec/pkg/ffmpeg"
	"mediarec/pkg/license"
	"mediarec/pkg/log"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestFakeProcess(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	output := os.Args[len(os.Args)-1]
	file, err := os.Create(output)
	if err != nil {
		os.Exit(1)
	}
	defer file.Close()

	input := os.Stdin
	for i, arg := range os.Args {
		// Remux of the spooled video.
		if arg == "copy" {
			input, err = os.Open(os.Args[i-2])
			if err != nil {
				os.Exit(2)
			}
		}
	}
	file.ReadFrom(input) //nolint:errcheck
}

func fakeFFmpeg() *ffmpeg.FFMPEG {
	return ffmpeg.NewWithCommand(func(args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestFakeProcess", "--"}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{"GO_TEST_PROCESS=1"}
		return cmd
	})
}

const testSecret = "secret"

func newTestBackend(t *testing.T, ff *ffmpeg.FFMPEG) *Backend {
	return New(
		context.Background(),
		ff,
		t.TempDir(),
		license.NewVerifier(testSecret),
		log.NewMockLogger(),
	)
}

func signToken(t *testing.T, claims license.Claims) string {
	t.Helper()
	token, err := license.Sign(testSecret, claims)
	require.NoError(t, err)
	return token
}

func finish(t *testing.T, enc encoder.Encoder) string {
	t.Helper()
	paths := make(chan string)
	status := enc.FinishWriting(func(path string) {
		paths <- path
	})
	require.Equal(t, encoder.StatusOK, status)

	select {
	case path := <-paths:
		return path
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
		return ""
	}
}

func TestSetSessionToken(t *testing.T) {
	expired := jwt.NewNumericDate(time.Now().Add(-time.Hour))
	cases := map[string]struct {
		token    func(*testing.T) string
		expected encoder.Status
	}{
		"missing": {
			func(*testing.T) string { return "" },
			encoder.StatusInvalidSession,
		},
		"malformed": {
			func(*testing.T) string { return "abc" },
			encoder.StatusInvalidHub,
		},
		"full": {
			func(t *testing.T) string {
				return signToken(t, license.Claims{Product: license.Product, Plan: license.PlanFull})
			},
			encoder.StatusOK,
		},
		"limited": {
			func(t *testing.T) string {
				return signToken(t, license.Claims{Product: license.Product, Plan: license.PlanLimited})
			},
			encoder.StatusLimitedPlan,
		},
		"wrongProduct": {
			func(t *testing.T) string {
				return signToken(t, license.Claims{Product: "x", Plan: license.PlanFull})
			},
			encoder.StatusInvalidPlan,
		},
		"expired": {
			func(t *testing.T) string {
				return signToken(t, license.Claims{
					Product:          license.Product,
					RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expired},
				})
			},
			encoder.StatusInvalidPlan,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b := newTestBackend(t, nil)
			require.Equal(t, tc.expected, b.SetSessionToken(tc.token(t)))
			require.Equal(t, tc.expected, b.SessionStatus())
		})
	}
	t.Run("noVerifier", func(t *testing.T) {
		b := New(context.Background(), nil, "", nil, log.NewMockLogger())
		require.Equal(t, encoder.StatusMissingHub, b.SetSessionToken("x"))
	})
}

func TestCreate(t *testing.T) {
	videoConfig := encoder.VideoConfig{Width: 4, Height: 2, FrameRate: 30}

	t.Run("gatedByToken", func(t *testing.T) {
		b := newTestBackend(t, nil)
		dir := t.TempDir()

		enc, status := b.CreateMP4(filepath.Join(dir, "a.mp4"), videoConfig)
		require.Nil(t, enc)
		require.Equal(t, encoder.StatusInvalidSession, status)

		enc, status = b.CreateHEVC(filepath.Join(dir, "a.mp4"), videoConfig)
		require.Nil(t, enc)
		require.Equal(t, encoder.StatusInvalidSession, status)

		b.SetSessionToken("abc")
		_, status = b.CreateWAV(
			filepath.Join(dir, "a.wav"),
			encoder.AudioConfig{SampleRate: 8000, ChannelCount: 1},
		)
		require.Equal(t, encoder.StatusInvalidHub, status)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries)
	})
	t.Run("builtinMP4", func(t *testing.T) {
		b := newTestBackend(t, nil)
		b.SetSessionToken(signToken(t, license.Claims{Product: license.Product}))
		path := filepath.Join(t.TempDir(), "a.mp4")

		enc, status := b.CreateMP4(path, videoConfig)
		require.Equal(t, encoder.StatusOK, status)
		require.Equal(t, encoder.StatusOK, enc.CommitFrame(make([]byte, 4*2*4), 0))
		require.Equal(t, path, finish(t, enc))
		require.Equal(t, encoder.StatusInvalidOperation, enc.CommitFrame(make([]byte, 4*2*4), 1))
	})
	t.Run("limitedPlan", func(t *testing.T) {
		b := newTestBackend(t, nil)
		b.SetSessionToken(signToken(t, license.Claims{
			Product: license.Product,
			Plan:    license.PlanLimited,
		}))
		path := filepath.Join(t.TempDir(), "a.gif")

		enc, status := b.CreateGIF(path, encoder.GIFConfig{Width: 2, Height: 2, FrameDelay: 0.1})
		require.Equal(t, encoder.StatusLimitedPlan, status)
		require.Equal(t, encoder.StatusOK, enc.CommitFrame(make([]byte, 2*2*4), 0))
		require.Equal(t, path, finish(t, enc))
	})
	t.Run("withoutFFmpeg", func(t *testing.T) {
		b := newTestBackend(t, nil)
		b.SetSessionToken(signToken(t, license.Claims{Product: license.Product}))
		require.False(t, b.HasFFmpeg())

		_, status := b.CreateHEVC(filepath.Join(t.TempDir(), "a.mp4"), videoConfig)
		require.Equal(t, encoder.StatusNotImplemented, status)

		_, status = b.CreateWEBM(filepath.Join(t.TempDir(), "a.webm"), videoConfig)
		require.Equal(t, encoder.StatusNotImplemented, status)
	})
	t.Run("ffmpeg", func(t *testing.T) {
		b := newTestBackend(t, fakeFFmpeg())
		b.SetSessionToken(signToken(t, license.Claims{Product: license.Product}))
		path := filepath.Join(t.TempDir(), "a.webm")

		enc, status := b.CreateWEBM(path, videoConfig)
		require.Equal(t, encoder.StatusOK, status)
		require.Equal(t, encoder.StatusOK, enc.CommitFrame(make([]byte, 4*2*4), 0))
		require.Equal(t, path, finish(t, enc))

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, int64(4*2*4), info.Size())
	})
	t.Run("invalidConfig", func(t *testing.T) {
		b := newTestBackend(t, nil)
		b.SetSessionToken(signToken(t, license.Claims{Product: license.Product}))

		_, status := b.CreateJPEG(filepath.Join(t.TempDir(), "a"), encoder.JPEGConfig{})
		require.Equal(t, encoder.StatusInvalidArgument, status)

		_, status = b.CreateWAV(filepath.Join(t.TempDir(), "a.wav"), encoder.AudioConfig{})
		require.Equal(t, encoder.StatusInvalidArgument, status)
	})
	t.Run("finishFailed", func(t *testing.T) {
		b := newTestBackend(t, nil)
		b.SetSessionToken(signToken(t, license.Claims{Product: license.Product}))

		enc, status := b.CreateGIF(
			filepath.Join(t.TempDir(), "a.gif"),
			encoder.GIFConfig{Width: 2, Height: 2},
		)
		require.Equal(t, encoder.StatusOK, status)
		require.Equal(t, "", finish(t, enc))
	})
}
