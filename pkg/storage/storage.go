// Package storage names, lists and purges recordings.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mediarec/pkg/log"
)

// Recordings are stored flat in the recordings directory.
//
// recordings
// ├── recording_2022_01_02_15_04_05_000.mp4
// ├── recording_2022_01_02_15_04_06_500.wav
// └── recording_2022_01_02_15_04_07_250   // JPEG sequence.
//     ├── 1.jpg
//     └── 2.jpg

const (
	recordingPrefix = "recording_"
	timeLayout      = "2006_01_02_15_04_05"
)

// Manager storage manager.
type Manager struct {
	recordingsDir string
	maxRecordings int
	now           func() time.Time
	removeAll     func(string) error

	// Paths handed out by NewRecordingPath in this process.
	issued map[string]struct{}
	mu     sync.Mutex

	logger *log.Logger
}

// NewManager returns new manager. maxRecordings 0 disables purging.
func NewManager(recordingsDir string, maxRecordings int, logger *log.Logger) *Manager {
	return &Manager{
		recordingsDir: recordingsDir,
		maxRecordings: maxRecordings,
		now:           time.Now,
		removeAll:     os.RemoveAll,
		issued:        make(map[string]struct{}),

		logger: logger,
	}
}

// RecordingsDir Returns path to recordings diectory.
func (s *Manager) RecordingsDir() string {
	return s.recordingsDir
}

// RecordingName returns the recording name for time t,
// recording_yyyy_MM_dd_HH_mm_ss_fff.
func RecordingName(t time.Time) string {
	return fmt.Sprintf("%s%s_%03d",
		recordingPrefix, t.Format(timeLayout), t.Nanosecond()/int(time.Millisecond))
}

// isRecordingName reports if name is a recording name with
// at most one extension. Encoder spool files have two.
func isRecordingName(name string) bool {
	stamp := strings.TrimPrefix(name, recordingPrefix)
	stampLen := len(timeLayout) + len("_000")
	if len(stamp) == len(name) || len(stamp) < stampLen {
		return false
	}
	if _, err := time.Parse(timeLayout, stamp[:len(timeLayout)]); err != nil {
		return false
	}
	ext := stamp[stampLen:]
	if ext == "" {
		return true
	}
	return ext[0] == '.' && !strings.Contains(ext[1:], ".")
}

// NewRecordingPath returns a unique path for a new recording.
// ext includes the dot, an empty ext is used for directories.
func (s *Manager) NewRecordingPath(ext string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	for {
		path := filepath.Join(s.recordingsDir, RecordingName(t)+ext)
		_, issued := s.issued[path]
		if !issued && !exist(path) {
			s.issued[path] = struct{}{}
			return path
		}
		t = t.Add(time.Millisecond)
	}
}

// Recording file or directory.
type Recording struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Recordings returns all recordings, oldest first.
func (s *Manager) Recordings() ([]Recording, error) {
	entries, err := os.ReadDir(s.recordingsDir)
	if err != nil {
		return nil, fmt.Errorf("read directory %v: %w", s.recordingsDir, err)
	}

	var recordings []Recording
	for _, entry := range entries {
		if !isRecordingName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed while listing.
			continue
		}

		path := filepath.Join(s.recordingsDir, entry.Name())
		size := info.Size()
		if entry.IsDir() {
			size = dirSize(path)
		}
		recordings = append(recordings, Recording{
			Name:    entry.Name(),
			Path:    path,
			Size:    size,
			ModTime: info.ModTime(),
			IsDir:   entry.IsDir(),
		})
	}

	// Names are fixed width so they sort by time.
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].Name < recordings[j].Name
	})
	return recordings, nil
}

// ErrNoRecordingsDir recordings directory does not exist.
var ErrNoRecordingsDir = errors.New("recordings directory does not exist")

// purge deletes the oldest recordings until at most maxRecordings remain.
func (s *Manager) purge() error {
	if s.maxRecordings == 0 {
		return nil
	}
	if !exist(s.recordingsDir) {
		return ErrNoRecordingsDir
	}

	recordings, err := s.Recordings()
	if err != nil {
		return err
	}

	for len(recordings) > s.maxRecordings {
		oldest := recordings[0]
		if err := s.removeAll(oldest.Path); err != nil {
			return fmt.Errorf("remove recording: %w", err)
		}
		s.logger.Debug().Src("storage").Msgf("purged %v", oldest.Name)
		recordings = recordings[1:]
	}
	return nil
}

// PurgeLoop runs Purge on an interval until context is canceled.
func (s *Manager) PurgeLoop(ctx context.Context, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
			if err := s.purge(); err != nil {
				s.logger.Error().Src("storage").Msgf("could not purge storage: %v", err)
			}
		}
	}
}

func dirSize(path string) int64 {
	var used int64
	filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()
		return nil
	})
	return used
}

func exist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
