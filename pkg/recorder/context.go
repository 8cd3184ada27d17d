package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"

	"mediarec/pkg/backend"
	"mediarec/pkg/config"
	"mediarec/pkg/encoder"
	"mediarec/pkg/ffmpeg"
	"mediarec/pkg/license"
	"mediarec/pkg/log"
	"mediarec/pkg/storage"
)

// Context is the process wide state shared by all recorders.
// The session token is applied once on creation.
type Context struct {
	Env     *config.Env
	Log     *log.Logger
	Storage *storage.Manager
	Backend *backend.Backend
}

// NewContext creates the recordings directory and applies
// env.Token. Encoder processes are stopped when ctx is canceled.
func NewContext(ctx context.Context, env *config.Env, logger *log.Logger) (*Context, error) {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create recordings directory: %w", err)
	}

	var ff *ffmpeg.FFMPEG
	if env.FFmpegBin != "" {
		ff = ffmpeg.New(env.FFmpegBin)
	}

	c := &Context{
		Env:     env,
		Log:     logger,
		Storage: storage.NewManager(env.RecordingsDir(), env.MaxRecordings, logger),
		Backend: backend.New(ctx, ff, env.TempDir, license.NewVerifier(env.LicenseSecret), logger),
	}
	c.SetSessionToken(env.Token)
	return c, nil
}

// SetSessionToken applies token to the backend. The
// error is also returned by recorder constructors.
func (c *Context) SetSessionToken(token string) error {
	status := c.Backend.SetSessionToken(token)
	switch status {
	case encoder.StatusOK:
		c.Log.Info().Src("app").Msg("session token applied")
	case encoder.StatusLimitedPlan:
		c.Log.Warn().Src("app").Msg("session token applied, limited plan")
	default:
		c.Log.Error().Src("app").Msgf("session token: %v", status)
	}
	return statusError(status)
}
