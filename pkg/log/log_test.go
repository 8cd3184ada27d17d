package log

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (context.Context, *Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := NewLogger(LevelDebug, &sync.WaitGroup{})
	logger.Start(ctx)
	return ctx, logger
}

func TestLogger(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		_, logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		defer cancel()

		logger.Info().Src("recorder").Recorder("r1").Time(time.Unix(0, 4000)).Msg("msg1")

		actual := <-feed
		expected := Log{
			Level:    LevelInfo,
			Time:     4,
			Msg:      "msg1",
			Src:      "recorder",
			Recorder: "r1",
		}
		require.Equal(t, expected, actual)
	})
	t.Run("msgf", func(t *testing.T) {
		_, logger := newTestLogger(t)

		feed, cancel := logger.Subscribe()
		defer cancel()

		logger.Warn().Msgf("%v %v", "a", 1)
		actual := <-feed
		require.Equal(t, "a 1", actual.Msg)
		require.Equal(t, LevelWarning, actual.Level)
	})
	t.Run("levelFilter", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := NewLogger(LevelWarning, &sync.WaitGroup{})
		logger.Start(ctx)

		feed, cancel2 := logger.Subscribe()
		defer cancel2()

		logger.Debug().Msg("debug")
		logger.Info().Msg("info")
		logger.Error().Msg("error")

		actual := <-feed
		require.Equal(t, "error", actual.Msg)
	})
	t.Run("neverBlocks", func(t *testing.T) {
		logger := NewMockLogger()

		done := make(chan struct{})
		go func() {
			for i := 0; i < feedSize*4; i++ {
				logger.Info().Msg("x")
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("logger blocked without consumer")
		}
	})
	t.Run("unsubBeforePrint", func(t *testing.T) {
		_, logger := newTestLogger(t)

		feed1, cancel1 := logger.Subscribe()
		feed2, cancel2 := logger.Subscribe()
		cancel2()

		logger.Info().Msg("test")
		actual1 := <-feed1
		actual2, ok := <-feed2
		cancel1()

		require.Equal(t, "test", actual1.Msg)
		require.False(t, ok)
		require.Equal(t, Log{}, actual2)
	})
	t.Run("stopped", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wg := &sync.WaitGroup{}
		logger := NewLogger(LevelDebug, wg)
		logger.Start(ctx)

		_, cancelFeed := logger.Subscribe()
		cancel()
		wg.Wait()

		done := make(chan struct{})
		go func() {
			cancelFeed()
			_, cancelFeed2 := logger.Subscribe()
			cancelFeed2()
			logger.LogToStdout(ctx)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("blocked after logger stopped")
		}
	})
	t.Run("logToStdout", func(t *testing.T) {
		cs := []string{"-test.run=TestLogToStdout"}
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{"GO_TEST_PROCESS=1"}
		output, err := cmd.CombinedOutput()
		require.NoError(t, err)
		require.Equal(t, "[INFO] r1: App: log test\n", string(output))
	})
}

func TestLogToStdout(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger := NewLogger(LevelDebug, &sync.WaitGroup{})
	logger.Start(ctx)

	go logger.LogToStdout(ctx)
	time.Sleep(10 * time.Millisecond)
	logger.Info().Src("app").Recorder("r1").Msg("log test")
	time.Sleep(10 * time.Millisecond)
	cancel()

	os.Exit(0)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected Level
		err      error
	}{
		"error":   {"error", LevelError, nil},
		"warning": {"WARNING", LevelWarning, nil},
		"empty":   {"", LevelInfo, nil},
		"debug":   {"debug", LevelDebug, nil},
		"invalid": {"verbose", 0, ErrInvalidLevel},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, level)
		})
	}
}
