// Package backend creates encoders for recorder sessions.
package backend

import (
	"context"
	"errors"
	"os"
	"sync"

	"mediarec/pkg/encoder"
	"mediarec/pkg/encoder/ffenc"
	"mediarec/pkg/encoder/gif"
	"mediarec/pkg/encoder/jpegseq"
	"mediarec/pkg/encoder/mp4enc"
	"mediarec/pkg/encoder/wav"
	"mediarec/pkg/ffmpeg"
	"mediarec/pkg/license"
	"mediarec/pkg/log"
)

// Backend creates encoders. Every Create call is
// gated by the status of the session token.
type Backend struct {
	ctx      context.Context
	ffmpeg   *ffmpeg.FFMPEG
	tempDir  string
	verifier *license.Verifier
	logger   *log.Logger

	tokenStatus encoder.Status
	mu          sync.Mutex
}

// New returns a backend without a session token. ff may be nil,
// the builtin MP4 encoder is used and HEVC and WEBM are unavailable.
// ffmpeg encoders keep partial files in tempDir. Encoder
// processes are stopped when ctx is canceled.
func New(
	ctx context.Context,
	ff *ffmpeg.FFMPEG,
	tempDir string,
	verifier *license.Verifier,
	logger *log.Logger,
) *Backend {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Backend{
		ctx:         ctx,
		ffmpeg:      ff,
		tempDir:     tempDir,
		verifier:    verifier,
		logger:      logger,
		tokenStatus: encoder.StatusInvalidSession,
	}
}

// SetSessionToken verifies and applies token.
func (b *Backend) SetSessionToken(token string) encoder.Status {
	status := b.verify(token)

	b.mu.Lock()
	b.tokenStatus = status
	b.mu.Unlock()

	return status
}

func (b *Backend) verify(token string) encoder.Status {
	if b.verifier == nil {
		return encoder.StatusMissingHub
	}
	plan, err := b.verifier.Verify(token)
	switch {
	case errors.Is(err, license.ErrMissing):
		return encoder.StatusInvalidSession
	case errors.Is(err, license.ErrPlan):
		b.logger.Error().Src("license").Msgf("%v", err)
		return encoder.StatusInvalidPlan
	case err != nil:
		b.logger.Error().Src("license").Msgf("%v", err)
		return encoder.StatusInvalidHub
	case plan == license.PlanLimited:
		return encoder.StatusLimitedPlan
	}
	return encoder.StatusOK
}

// SessionStatus returns the status of the current session token.
func (b *Backend) SessionStatus() encoder.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenStatus
}

// HasFFmpeg reports if ffmpeg encoders are available.
func (b *Backend) HasFFmpeg() bool {
	return b.ffmpeg != nil
}

// CreateMP4 creates a H.264 MP4 encoder, or a
// Motion-JPEG MP4 encoder if ffmpeg is unavailable.
func (b *Backend) CreateMP4(path string, config encoder.VideoConfig) (encoder.Encoder, encoder.Status) {
	if b.ffmpeg == nil {
		return b.create("mp4", func() (encoder.Synchronous, error) {
			return mp4enc.New(path, config)
		})
	}
	return b.createFFmpeg(ffenc.H264, path, config)
}

// CreateHEVC creates a HEVC MP4 encoder.
func (b *Backend) CreateHEVC(path string, config encoder.VideoConfig) (encoder.Encoder, encoder.Status) {
	return b.createFFmpeg(ffenc.HEVC, path, config)
}

// CreateWEBM creates a VP9 WEBM encoder.
func (b *Backend) CreateWEBM(path string, config encoder.VideoConfig) (encoder.Encoder, encoder.Status) {
	return b.createFFmpeg(ffenc.VP9, path, config)
}

func (b *Backend) createFFmpeg(
	codec ffenc.Codec, path string, config encoder.VideoConfig,
) (encoder.Encoder, encoder.Status) {
	if b.ffmpeg == nil {
		if status := b.SessionStatus(); !status.Succeeded() {
			return nil, status
		}
		return nil, encoder.StatusNotImplemented
	}
	logf := func(msg string) {
		b.logger.Debug().Src("ffmpeg").Msg(msg)
	}
	return b.create(codec.Name, func() (encoder.Synchronous, error) {
		return ffenc.New(b.ctx, b.ffmpeg, codec, path, b.tempDir, config, logf)
	})
}

// CreateGIF creates an animated GIF encoder.
func (b *Backend) CreateGIF(path string, config encoder.GIFConfig) (encoder.Encoder, encoder.Status) {
	return b.create("gif", func() (encoder.Synchronous, error) {
		return gif.New(path, config)
	})
}

// CreateWAV creates a PCM WAV encoder.
func (b *Backend) CreateWAV(path string, config encoder.AudioConfig) (encoder.Encoder, encoder.Status) {
	return b.create("wav", func() (encoder.Synchronous, error) {
		return wav.New(path, config)
	})
}

// CreateJPEG creates a JPEG sequence encoder writing to the directory dir.
func (b *Backend) CreateJPEG(dir string, config encoder.JPEGConfig) (encoder.Encoder, encoder.Status) {
	return b.create("jpeg", func() (encoder.Synchronous, error) {
		return jpegseq.New(dir, config)
	})
}

func (b *Backend) create(
	name string, newEncoder func() (encoder.Synchronous, error),
) (encoder.Encoder, encoder.Status) {
	status := b.SessionStatus()
	if !status.Succeeded() {
		return nil, status
	}

	enc, err := newEncoder()
	if err != nil {
		b.logger.Error().Src("encoder").Msgf("create %v encoder: %v", name, err)
		if isInvalidConfig(err) {
			return nil, encoder.StatusInvalidArgument
		}
		return nil, encoder.StatusInvalidOperation
	}

	onError := func(err error) {
		b.logger.Error().Src("encoder").Msgf("finish %v encoder: %v", name, err)
	}
	return encoder.Background(enc, onError), status
}

func isInvalidConfig(err error) bool {
	return errors.Is(err, mp4enc.ErrInvalidConfig) ||
		errors.Is(err, ffenc.ErrInvalidConfig) ||
		errors.Is(err, gif.ErrInvalidConfig) ||
		errors.Is(err, wav.ErrInvalidConfig) ||
		errors.Is(err, jpegseq.ErrInvalidConfig)
}
