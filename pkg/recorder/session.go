package recorder

import (
	"context"
	"fmt"
	"sync"

	"mediarec/pkg/encoder"
	"mediarec/pkg/log"

	"github.com/google/uuid"
)

// State of a session.
type State int

// States.
const (
	StateOpen State = iota
	StateFinishing
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session records a single media file. Commits may be called from
// any goroutine, they are serialized before reaching the encoder.
type Session struct {
	id           string
	kind         string
	width        int
	height       int
	channelCount int

	enc    encoder.Encoder
	logger *log.Logger

	state  State
	result *Result

	// Unsupported commits are logged once.
	warnedFrames  bool
	warnedSamples bool

	mu sync.Mutex
}

func newSession(kind string, enc encoder.Encoder, channelCount int, logger *log.Logger) *Session {
	width, height := enc.FrameSize()
	return &Session{
		id:           uuid.NewString(),
		kind:         kind,
		width:        width,
		height:       height,
		channelCount: channelCount,
		enc:          enc,
		logger:       logger,
		state:        StateOpen,
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// Kind returns the recorder kind, "mp4", "gif" ...
func (s *Session) Kind() string {
	return s.kind
}

// FrameSize returns the video frame size, zero for audio only recorders.
func (s *Session) FrameSize() (int, int) {
	return s.width, s.height
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CommitFrame commits a RGBA8888 frame of width*height*4 bytes. pixels
// is not retained. Frames are dropped if the recorder has no video.
func (s *Session) CommitFrame(pixels []byte, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return fmt.Errorf("commit frame: %w: session %v", ErrInvalidOperation, s.state)
	}
	if s.width != 0 && !encoder.ValidFrame(pixels, s.width, s.height) {
		return fmt.Errorf("commit frame: %w: got %d bytes, expected %d",
			ErrInvalidArgument, len(pixels), s.width*s.height*4)
	}

	status := s.enc.CommitFrame(pixels, timestamp)
	if status == encoder.StatusNotImplemented {
		if !s.warnedFrames {
			s.warnedFrames = true
			s.logger.Warn().Src("recorder").Recorder(s.id).
				Msgf("%v recorder does not support video, frames are dropped", s.kind)
		}
		return nil
	}
	if err := statusError(status); err != nil {
		return fmt.Errorf("commit frame: %w", err)
	}
	return nil
}

// CommitSamples commits interleaved float32 PCM samples. samples is
// not retained. Samples are dropped if the recorder has no audio.
func (s *Session) CommitSamples(samples []float32, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return fmt.Errorf("commit samples: %w: session %v", ErrInvalidOperation, s.state)
	}
	if s.channelCount != 0 && len(samples)%s.channelCount != 0 {
		return fmt.Errorf("commit samples: %w: %d samples for %d channels",
			ErrInvalidArgument, len(samples), s.channelCount)
	}

	status := s.enc.CommitSamples(samples, timestamp)
	if status == encoder.StatusNotImplemented {
		if !s.warnedSamples {
			s.warnedSamples = true
			s.logger.Warn().Src("recorder").Recorder(s.id).
				Msgf("%v recorder does not support audio, samples are dropped", s.kind)
		}
		return nil
	}
	if err := statusError(status); err != nil {
		return fmt.Errorf("commit samples: %w", err)
	}
	return nil
}

// FinishWriting finalizes the recording in the background. Later
// calls return the same result. The session cannot be reopened.
func (s *Session) FinishWriting() *Result {
	s.mu.Lock()
	if s.result != nil {
		s.mu.Unlock()
		return s.result
	}
	result := newResult()
	s.result = result
	s.state = StateFinishing
	s.mu.Unlock()

	s.logger.Debug().Src("recorder").Recorder(s.id).Msg("finishing")

	status := s.enc.FinishWriting(s.onFinished)
	if err := statusError(status); err != nil {
		s.fail(fmt.Errorf("finish writing: %w", err))
	}
	return result
}

func (s *Session) onFinished(path string) {
	if path == "" {
		s.fail(ErrEncodingFailed)
		return
	}

	s.mu.Lock()
	s.state = StateFinished
	s.mu.Unlock()

	s.logger.Info().Src("recorder").Recorder(s.id).Msgf("recording finished: %v", path)
	s.result.resolve(path, nil)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	s.logger.Error().Src("recorder").Recorder(s.id).Msgf("recording failed: %v", err)
	s.result.resolve("", err)
}

// Result of FinishWriting.
type Result struct {
	path string
	err  error

	done chan struct{}
	once sync.Once
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

func (r *Result) resolve(path string, err error) {
	r.once.Do(func() {
		r.path = path
		r.err = err
		close(r.done)
	})
}

// Done is closed when the recording is finished or failed.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until done or ctx is canceled.
func (r *Result) Wait(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.path, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Path returns the output path, empty until done or on failure.
func (r *Result) Path() string {
	select {
	case <-r.done:
		return r.path
	default:
		return ""
	}
}

// Err returns the failure, nil until done.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
