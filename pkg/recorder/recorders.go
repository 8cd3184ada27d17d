// Package recorder implements recorder sessions on top of the encoder backend.
package recorder

import (
	"fmt"

	"mediarec/pkg/encoder"
)

// Video recorder defaults.
const (
	DefaultVideoBitRate     = 10_000_000
	DefaultKeyframeInterval = 2.0 // Seconds.
	DefaultAudioBitRate     = 64_000
)

// VideoOptions configures MP4, HEVC and WEBM recorders.
// Zero bit rates and keyframe interval use the defaults.
type VideoOptions struct {
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

func (o VideoOptions) config() (encoder.VideoConfig, error) {
	if o.Width <= 0 || o.Height <= 0 || o.Width%2 != 0 || o.Height%2 != 0 {
		return encoder.VideoConfig{}, fmt.Errorf(
			"%w: frame size %dx%d must be positive and even", ErrInvalidArgument, o.Width, o.Height)
	}
	if o.FrameRate <= 0 {
		return encoder.VideoConfig{}, fmt.Errorf(
			"%w: frame rate %v", ErrInvalidArgument, o.FrameRate)
	}
	if o.SampleRate < 0 || o.ChannelCount < 0 || (o.SampleRate == 0) != (o.ChannelCount == 0) {
		return encoder.VideoConfig{}, fmt.Errorf(
			"%w: sample rate %v, channel count %v", ErrInvalidArgument, o.SampleRate, o.ChannelCount)
	}
	if o.VideoBitRate < 0 || o.KeyframeInterval < 0 || o.AudioBitRate < 0 {
		return encoder.VideoConfig{}, fmt.Errorf("%w: negative bit rate or keyframe interval", ErrInvalidArgument)
	}

	if o.VideoBitRate == 0 {
		o.VideoBitRate = DefaultVideoBitRate
	}
	if o.KeyframeInterval == 0 {
		o.KeyframeInterval = DefaultKeyframeInterval
	}
	if o.AudioBitRate == 0 {
		o.AudioBitRate = DefaultAudioBitRate
	}

	return encoder.VideoConfig{
		Width:            o.Width,
		Height:           o.Height,
		FrameRate:        o.FrameRate,
		SampleRate:       o.SampleRate,
		ChannelCount:     o.ChannelCount,
		VideoBitRate:     o.VideoBitRate,
		KeyframeInterval: o.KeyframeInterval,
		AudioBitRate:     o.AudioBitRate,
	}, nil
}

type createVideoFunc func(string, encoder.VideoConfig) (encoder.Encoder, encoder.Status)

// NewMP4Recorder returns a H.264 MP4 recorder. Without
// ffmpeg the video is stored as Motion-JPEG.
func NewMP4Recorder(c *Context, opts VideoOptions) (*Session, error) {
	return newVideoRecorder(c, "mp4", ".mp4", opts, c.Backend.CreateMP4)
}

// NewHEVCRecorder returns a HEVC MP4 recorder, ffmpeg is required.
func NewHEVCRecorder(c *Context, opts VideoOptions) (*Session, error) {
	return newVideoRecorder(c, "hevc", ".mp4", opts, c.Backend.CreateHEVC)
}

// NewWEBMRecorder returns a VP9 WEBM recorder, ffmpeg is required.
func NewWEBMRecorder(c *Context, opts VideoOptions) (*Session, error) {
	return newVideoRecorder(c, "webm", ".webm", opts, c.Backend.CreateWEBM)
}

func newVideoRecorder(
	c *Context,
	kind string,
	ext string,
	opts VideoOptions,
	create createVideoFunc,
) (*Session, error) {
	config, err := opts.config()
	if err != nil {
		return nil, fmt.Errorf("create %v recorder: %w", kind, err)
	}

	path := c.Storage.NewRecordingPath(ext)
	enc, status := create(path, config)
	return c.newSession(kind, path, enc, status, config.ChannelCount)
}

// NewGIFRecorder returns an animated GIF recorder.
// frameDelay is the delay between frames in seconds.
// Timestamps are ignored.
func NewGIFRecorder(c *Context, width, height int, frameDelay float64) (*Session, error) {
	if width <= 0 || height <= 0 || frameDelay < 0 {
		return nil, fmt.Errorf("create gif recorder: %w: %dx%d delay %v",
			ErrInvalidArgument, width, height, frameDelay)
	}

	path := c.Storage.NewRecordingPath(".gif")
	enc, status := c.Backend.CreateGIF(path, encoder.GIFConfig{
		Width:      width,
		Height:     height,
		FrameDelay: frameDelay,
	})
	return c.newSession("gif", path, enc, status, 0)
}

// NewWAVRecorder returns a 16-bit PCM WAV recorder.
// Samples are written as a continuous stream.
func NewWAVRecorder(c *Context, sampleRate, channelCount int) (*Session, error) {
	if sampleRate <= 0 || channelCount <= 0 {
		return nil, fmt.Errorf("create wav recorder: %w: sample rate %v, channel count %v",
			ErrInvalidArgument, sampleRate, channelCount)
	}

	path := c.Storage.NewRecordingPath(".wav")
	enc, status := c.Backend.CreateWAV(path, encoder.AudioConfig{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
	})
	return c.newSession("wav", path, enc, status, channelCount)
}

// NewJPEGRecorder returns a recorder writing a directory of JPEG
// images. quality is clamped to [1, 100], zero means 80.
func NewJPEGRecorder(c *Context, width, height, quality int) (*Session, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("create jpeg recorder: %w: %dx%d",
			ErrInvalidArgument, width, height)
	}

	path := c.Storage.NewRecordingPath("")
	enc, status := c.Backend.CreateJPEG(path, encoder.JPEGConfig{
		Width:   width,
		Height:  height,
		Quality: quality,
	})
	return c.newSession("jpeg", path, enc, status, 0)
}

func (c *Context) newSession(
	kind string,
	path string,
	enc encoder.Encoder,
	status encoder.Status,
	channelCount int,
) (*Session, error) {
	if err := statusError(status); err != nil {
		return nil, fmt.Errorf("create %v recorder: %w", kind, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("create %v recorder: %w", kind, ErrInvalidOperation)
	}

	s := newSession(kind, enc, channelCount, c.Log)
	if status == encoder.StatusLimitedPlan {
		s.logger.Warn().Src("recorder").Recorder(s.id).Msg("limited plan")
	}
	s.logger.Info().Src("recorder").Recorder(s.id).Msgf("%v recording started: %v", kind, path)
	return s, nil
}
