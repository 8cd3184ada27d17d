// Package system samples host resource usage while recording.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediarec/pkg/log"
	"mediarec/pkg/storage"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUUsage        int   `json:"cpuUsage"`
	RAMUsage        int   `json:"ramUsage"`
	RecordingsSize  int64 `json:"recordingsSize"`
	RecordingsCount int   `json:"recordingsCount"`
}

func (s Status) String() string {
	return fmt.Sprintf("cpu %v%%, ram %v%%, %v recordings %v",
		s.CPUUsage, s.RAMUsage, s.RecordingsCount, formatSize(s.RecordingsSize))
}

type (
	cpuFunc        func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc        func() (*mem.VirtualMemoryStat, error)
	recordingsFunc func() ([]storage.Recording, error)
)

// System .
type System struct {
	cpu        cpuFunc
	ram        ramFunc
	recordings recordingsFunc

	status   Status
	duration time.Duration

	log *log.Logger
	mu  sync.Mutex
	o   sync.Once
}

// New returns new System. CPU usage is sampled over interval.
func New(manager *storage.Manager, interval time.Duration, log *log.Logger) *System {
	return &System{
		cpu:        cpu.PercentWithContext,
		ram:        mem.VirtualMemory,
		recordings: manager.Recordings,

		duration: interval,

		log: log,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("could not get cpu usage %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("could not get ram usage %w", err)
	}
	recordings, err := s.recordings()
	if err != nil {
		return fmt.Errorf("could not get recordings %w", err)
	}

	var size int64
	for _, rec := range recordings {
		size += rec.Size
	}

	status := Status{
		RAMUsage:        int(ramUsage.UsedPercent),
		RecordingsSize:  size,
		RecordingsCount: len(recordings),
	}
	if len(cpuUsage) != 0 {
		status.CPUUsage = int(cpuUsage[0])
	}

	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	return nil
}

// StatusLoop updates and logs the system status until context is canceled.
func (s *System) StatusLoop(ctx context.Context) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error().Src("system").Msgf("could not update system status: %v", err)
				select {
				case <-ctx.Done():
				case <-time.After(s.duration):
				}
				continue
			}
			s.log.Debug().Src("system").Msg(s.Status().String())
		}
	})
}

// Status returns cpu, ram and recordings usage.
func (s *System) Status() Status {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.status
}

func formatSize(size int64) string {
	const unit = 1000
	switch {
	case size < unit:
		return fmt.Sprintf("%dB", size)
	case size < unit*unit:
		return fmt.Sprintf("%.1fKB", float64(size)/unit)
	case size < unit*unit*unit:
		return fmt.Sprintf("%.1fMB", float64(size)/(unit*unit))
	}
	return fmt.Sprintf("%.1fGB", float64(size)/(unit*unit*unit))
}
