// Package ffenc encodes recordings with ffmpeg.
package ffenc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"mediarec/pkg/encoder"
	"mediarec/pkg/ffmpeg"

	"github.com/hashicorp/go-multierror"
)

// Codec selects the ffmpeg encoders and container.
type Codec struct {
	Name       string
	Format     string // ffmpeg muxer.
	VideoCodec string
	VideoArgs  []string
	AudioCodec string
}

// Codecs.
var (
	H264 = Codec{
		Name:       "h264",
		Format:     "mp4",
		VideoCodec: "libx264",
		AudioCodec: "aac",
	}
	HEVC = Codec{
		Name:       "hevc",
		Format:     "mp4",
		VideoCodec: "libx265",
		VideoArgs:  []string{"-tag:v", "hvc1"},
		AudioCodec: "aac",
	}
	VP9 = Codec{
		Name:       "vp9",
		Format:     "webm",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
	}
)

// Encoder pipes raw RGBA frames into ffmpeg.
// Video and audio are spooled to the temp directory
// and muxed into the recording in a second pass.
type Encoder struct {
	ctx        context.Context
	ff         *ffmpeg.FFMPEG
	newProcess ffmpeg.NewProcessFunc
	logf       ffmpeg.LogFunc
	codec      Codec
	config     encoder.VideoConfig

	path      string
	videoPath string
	audioPath string

	stdin  io.WriteCloser
	exited chan error

	audioFile    *os.File
	audioOut     *bufio.Writer
	audioBuf     []byte
	audioSamples int64

	hasFirst       bool
	firstTimestamp int64
	nextSlot       int64

	writeErr error
}

// ErrInvalidConfig invalid frame size or rate.
var ErrInvalidConfig = errors.New("invalid ffmpeg encoder config")

// New starts ffmpeg encoding to path. Partial files are kept in
// tempDir until Finish. The process is interrupted if ctx is
// canceled. ffmpeg output and skipped frames are passed to logf.
func New(
	ctx context.Context,
	ff *ffmpeg.FFMPEG,
	codec Codec,
	path string,
	tempDir string,
	config encoder.VideoConfig,
	logf ffmpeg.LogFunc,
) (*Encoder, error) {
	if config.Width <= 0 || config.Height <= 0 || config.FrameRate <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, config)
	}
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	spool := filepath.Join(tempDir, filepath.Base(path))
	e := &Encoder{
		ctx:        ctx,
		ff:         ff,
		newProcess: ffmpeg.NewProcess,
		logf:       logf,
		codec:      codec,
		config:     config,

		path:      path,
		videoPath: spool + ".video",
		exited:    make(chan error, 1),
	}

	if config.HasAudio() {
		e.audioPath = spool + ".pcm"

		audioFile, err := os.Create(e.audioPath)
		if err != nil {
			return nil, fmt.Errorf("create audio spool: %w", err)
		}
		e.audioFile = audioFile
		e.audioOut = bufio.NewWriter(audioFile)
	}

	cmd := ff.Command(e.videoArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.removeTemp()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	e.stdin = stdin

	process := e.newProcess(cmd)
	process.SetPrefix(codec.Name + ": ")
	process.SetStderrLogger(logf)

	go func() {
		e.exited <- process.Start(ctx)
	}()

	return e, nil
}

func (e *Encoder) videoArgs() []string {
	c := e.config
	fps := strconv.FormatFloat(c.FrameRate, 'f', -1, 64)

	args := []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", strconv.Itoa(c.Width) + "x" + strconv.Itoa(c.Height),
		"-r", fps,
		"-i", "-",
		"-an",
		"-c:v", e.codec.VideoCodec,
	}
	if c.VideoBitRate > 0 {
		args = append(args, "-b:v", strconv.Itoa(c.VideoBitRate))
	}
	if c.KeyframeInterval > 0 {
		gop := int(math.Max(1, math.Round(c.KeyframeInterval*c.FrameRate)))
		args = append(args, "-g", strconv.Itoa(gop))
	}
	args = append(args, e.codec.VideoArgs...)
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-f", e.codec.Format,
		e.videoPath,
	)
	return args
}

func (e *Encoder) muxArgs() []string {
	c := e.config
	if e.audioSamples == 0 {
		return []string{
			"-y", "-loglevel", "error",
			"-i", e.videoPath,
			"-c", "copy",
			"-f", e.codec.Format, e.path,
		}
	}
	args := []string{
		"-y", "-loglevel", "error",
		"-i", e.videoPath,
		"-f", "f32le",
		"-ar", strconv.Itoa(c.SampleRate),
		"-ac", strconv.Itoa(c.ChannelCount),
		"-i", e.audioPath,
		"-c:v", "copy",
		"-c:a", e.codec.AudioCodec,
	}
	if c.AudioBitRate > 0 {
		args = append(args, "-b:a", strconv.Itoa(c.AudioBitRate))
	}
	args = append(args, "-f", e.codec.Format, e.path)
	return args
}

// FrameSize returns the frame size.
func (e *Encoder) FrameSize() (int, int) {
	return e.config.Width, e.config.Height
}

// CommitFrame writes the frame to ffmpeg. Frames are placed on the
// constant frame rate grid by timestamp, gaps are filled by repeating
// the frame and frames that land on a written slot are dropped.
// Gaps longer than one keyframe interval are skipped.
func (e *Encoder) CommitFrame(pixels []byte, timestamp int64) encoder.Status {
	if !encoder.ValidFrame(pixels, e.config.Width, e.config.Height) {
		return encoder.StatusInvalidArgument
	}
	if e.writeErr != nil {
		return encoder.StatusOK
	}

	if !e.hasFirst {
		e.hasFirst = true
		e.firstTimestamp = timestamp
	}
	slot := frameSlot(timestamp-e.firstTimestamp, e.config.FrameRate)

	if gap, maxGap := slot-e.nextSlot, e.maxGap(); gap > maxGap {
		skipped := gap - maxGap
		e.logf(fmt.Sprintf("%v: skipped %v frames, timestamp %v", e.codec.Name, skipped, timestamp))
		e.nextSlot += skipped
	}
	for e.nextSlot <= slot {
		if _, err := e.stdin.Write(pixels); err != nil {
			e.writeErr = fmt.Errorf("write frame: %w", err)
			return encoder.StatusOK
		}
		e.nextSlot++
	}
	return encoder.StatusOK
}

func frameSlot(elapsed int64, frameRate float64) int64 {
	return int64(math.Round(float64(elapsed) * frameRate / 1e9))
}

// maxGap returns the most repeated frames written for one commit,
// one keyframe interval or one second without one.
func (e *Encoder) maxGap() int64 {
	seconds := e.config.KeyframeInterval
	if seconds <= 0 {
		seconds = 1
	}
	return int64(math.Max(1, math.Round(seconds*e.config.FrameRate)))
}

// CommitSamples spools samples, the timestamp is ignored.
func (e *Encoder) CommitSamples(samples []float32, _ int64) encoder.Status {
	if !e.config.HasAudio() {
		return encoder.StatusNotImplemented
	}
	if len(samples)%e.config.ChannelCount != 0 {
		return encoder.StatusInvalidArgument
	}
	if e.writeErr != nil {
		return encoder.StatusOK
	}

	size := len(samples) * 4
	if cap(e.audioBuf) < size {
		e.audioBuf = make([]byte, size)
	}
	buf := e.audioBuf[:size]
	for i, sample := range samples {
		bits := math.Float32bits(sample)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	if _, err := e.audioOut.Write(buf); err != nil {
		e.writeErr = fmt.Errorf("spool audio: %w", err)
		return encoder.StatusOK
	}
	e.audioSamples += int64(len(samples))
	return encoder.StatusOK
}

// ErrNoFrames no frames were committed.
var ErrNoFrames = errors.New("no frames")

// Finish waits for ffmpeg and muxes the audio.
func (e *Encoder) Finish() (string, error) {
	defer e.removeTemp()

	if err := e.finish(); err != nil {
		os.Remove(e.path)
		return "", err
	}
	return e.path, nil
}

func (e *Encoder) finish() error {
	var result *multierror.Error
	if err := e.stdin.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close stdin: %w", err))
	}
	if err := <-e.exited; err != nil {
		result = multierror.Append(result, fmt.Errorf("ffmpeg: %w", err))
	}
	if e.audioFile != nil {
		if err := e.audioOut.Flush(); err != nil {
			result = multierror.Append(result, fmt.Errorf("flush audio: %w", err))
		}
		if err := e.audioFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close audio: %w", err))
		}
	}
	if e.writeErr != nil {
		result = multierror.Append(result, e.writeErr)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if e.nextSlot == 0 {
		return ErrNoFrames
	}

	cmd := e.ff.Command(e.muxArgs()...)
	process := e.newProcess(cmd)
	process.SetPrefix(e.codec.Name + " mux: ")
	process.SetStderrLogger(e.logf)
	if err := process.Start(e.ctx); err != nil {
		return fmt.Errorf("mux: %w", err)
	}
	return nil
}

func (e *Encoder) removeTemp() {
	if e.audioFile != nil {
		e.audioFile.Close()
		os.Remove(e.audioPath)
	}
	os.Remove(e.videoPath)
}
