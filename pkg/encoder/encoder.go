// Package encoder defines the boundary between recorder
// sessions and the encoders that produce media files.
package encoder

import (
	"encoding/binary"
	"math"
	"strconv"
)

// Status is the result code of an encoder call.
type Status int

// Status codes.
const (
	StatusOK               Status = 0
	StatusInvalidArgument  Status = 1
	StatusInvalidOperation Status = 2
	StatusNotImplemented   Status = 3
	StatusInvalidSession   Status = 101
	StatusMissingHub       Status = 102
	StatusInvalidHub       Status = 103
	StatusInvalidPlan      Status = 104
	StatusLimitedPlan      Status = 105
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusInvalidOperation:
		return "invalid operation"
	case StatusNotImplemented:
		return "not implemented"
	case StatusInvalidSession:
		return "invalid session"
	case StatusMissingHub:
		return "missing hub"
	case StatusInvalidHub:
		return "invalid hub"
	case StatusInvalidPlan:
		return "invalid plan"
	case StatusLimitedPlan:
		return "limited plan"
	}
	return "status " + strconv.Itoa(int(s))
}

// Succeeded reports if s is success or a warning.
func (s Status) Succeeded() bool {
	return s == StatusOK || s == StatusLimitedPlan
}

// FinishHandler is called once with the output
// path when writing finishes, or "" on failure.
type FinishHandler func(path string)

// Encoder is a handle to an encoder writing a single file.
// Calls must be serialized by the caller.
// The handle must not be used after FinishWriting.
type Encoder interface {
	// FrameSize returns the video frame size, zero if audio only.
	FrameSize() (width int, height int)

	// CommitFrame commits a RGBA8888 frame of width*height*4 bytes.
	CommitFrame(pixels []byte, timestamp int64) Status

	// CommitSamples commits interleaved float32 PCM samples.
	CommitSamples(samples []float32, timestamp int64) Status

	// FinishWriting finalizes the file in the background,
	// handler is called exactly once if StatusOK is returned.
	FinishWriting(handler FinishHandler) Status
}

// VideoConfig configures video encoders.
type VideoConfig struct {
	Width     int
	Height    int
	FrameRate float64

	// Zero disables audio.
	SampleRate   int
	ChannelCount int

	VideoBitRate     int
	KeyframeInterval float64 // Seconds.
	AudioBitRate     int
}

// HasAudio reports if an audio track is configured.
func (c VideoConfig) HasAudio() bool {
	return c.SampleRate > 0 && c.ChannelCount > 0
}

// GIFConfig configures the GIF encoder.
type GIFConfig struct {
	Width      int
	Height     int
	FrameDelay float64 // Seconds.
}

// AudioConfig configures the WAV encoder.
type AudioConfig struct {
	SampleRate   int
	ChannelCount int
}

// JPEGConfig configures the JPEG sequence encoder.
type JPEGConfig struct {
	Width   int
	Height  int
	Quality int
}

// ValidFrame reports if pixels is a complete RGBA frame.
func ValidFrame(pixels []byte, width, height int) bool {
	return len(pixels) == width*height*4
}

// PutPCM16 converts samples to little-endian 16 bit
// PCM in dst, which must hold len(samples)*2 bytes.
func PutPCM16(dst []byte, samples []float32) {
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(ToInt16(sample)))
	}
}

// ToInt16 converts a float sample in [-1, 1] with clamping.
func ToInt16(sample float32) int16 {
	v := math.Round(float64(sample) * math.MaxInt16)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < -math.MaxInt16:
		return -math.MaxInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}
