package system

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediarec/pkg/log"
	"mediarec/pkg/storage"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func newTestSystem() *System {
	return &System{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11.5}, nil
		},
		ram: func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22.5}, nil
		},
		recordings: func() ([]storage.Recording, error) {
			return []storage.Recording{{Size: 1000}, {Size: 1500}}, nil
		},
		duration: time.Millisecond,
		log:      log.NewMockLogger(),
	}
}

func TestUpdate(t *testing.T) {
	t.Run("working", func(t *testing.T) {
		s := newTestSystem()
		require.NoError(t, s.update(context.Background()))

		expected := Status{
			CPUUsage:        11,
			RAMUsage:        22,
			RecordingsSize:  2500,
			RecordingsCount: 2,
		}
		require.Equal(t, expected, s.Status())
		require.Equal(t, "cpu 11%, ram 22%, 2 recordings 2.5KB", s.Status().String())
	})
	t.Run("cpuErr", func(t *testing.T) {
		s := newTestSystem()
		errMock := errors.New("mock")
		s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
			return nil, errMock
		}
		require.ErrorIs(t, s.update(context.Background()), errMock)
	})
	t.Run("recordingsErr", func(t *testing.T) {
		s := newTestSystem()
		s.recordings = func() ([]storage.Recording, error) {
			return nil, storage.ErrNoRecordingsDir
		}
		require.ErrorIs(t, s.update(context.Background()), storage.ErrNoRecordingsDir)
	})
}

func TestStatusLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := &sync.WaitGroup{}
	logger := log.NewLogger(log.LevelDebug, wg)
	logger.Start(ctx)
	feed, cancelFeed := logger.Subscribe()

	s := newTestSystem()
	s.log = logger

	done := make(chan struct{})
	go func() {
		s.StatusLoop(ctx)
		close(done)
	}()

	entry := <-feed
	require.Equal(t, "system", entry.Src)
	require.Equal(t, "cpu 11%, ram 22%, 2 recordings 2.5KB", entry.Msg)

	cancelFeed()
	cancel()
	<-done
	wg.Wait()
}

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		999:           "999B",
		1000:          "1.0KB",
		2_500_000:     "2.5MB",
		3_000_000_000: "3.0GB",
	}
	for size, expected := range cases {
		require.Equal(t, expected, formatSize(size))
	}
}
