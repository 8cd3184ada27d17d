package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mediarec/pkg/log"

	"gopkg.in/yaml.v2"
)

// Env stores system configuration.
type Env struct {
	// Path to ffmpeg binary. MP4 falls back to the
	// builtin encoder and HEVC/WEBM are unavailable if empty.
	FFmpegBin string `yaml:"ffmpegBin"`

	// Recorder session token and the key used to verify it.
	Token         string `yaml:"token"`
	LicenseSecret string `yaml:"licenseSecret"`

	LogLevel string `yaml:"logLevel"`

	// Oldest recordings are removed when exceeded, 0 disables.
	MaxRecordings int `yaml:"maxRecordings"`

	StorageDir string `yaml:"storageDir"`
	TempDir    string

	HomeDir   string `yaml:"homeDir"`
	ConfigDir string
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrNegative        = errors.New("value is negative")
)

// NewEnv return new environment configuration.
func NewEnv(envPath string, envYAML []byte) (*Env, error) {
	var env Env

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)
	env.TempDir = filepath.Join(os.TempDir(), "mediarec")

	if env.HomeDir == "" {
		env.HomeDir = filepath.Dir(env.ConfigDir)
	}
	if env.StorageDir == "" {
		env.StorageDir = filepath.Join(env.HomeDir, "storage")
	}
	if env.LogLevel == "" {
		env.LogLevel = "info"
	}

	if env.FFmpegBin != "" {
		if !filepath.IsAbs(env.FFmpegBin) {
			return nil, fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, ErrPathNotAbsolute)
		}
		if !fileExist(env.FFmpegBin) {
			return nil, fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, os.ErrNotExist)
		}
	}
	if !filepath.IsAbs(env.HomeDir) {
		return nil, fmt.Errorf("homeDir '%v': %w", env.HomeDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.StorageDir) {
		return nil, fmt.Errorf("storageDir '%v': %w", env.StorageDir, ErrPathNotAbsolute)
	}
	if env.MaxRecordings < 0 {
		return nil, fmt.Errorf("maxRecordings %v: %w", env.MaxRecordings, ErrNegative)
	}
	if _, err := log.ParseLevel(env.LogLevel); err != nil {
		return nil, fmt.Errorf("logLevel: %w", err)
	}

	return &env, nil
}

// ReadEnv reads and parses env.yaml at envPath.
func ReadEnv(envPath string) (*Env, error) {
	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}
	return NewEnv(envPath, envYAML)
}

// Level returns the parsed log level.
func (env Env) Level() log.Level {
	level, _ := log.ParseLevel(env.LogLevel)
	return level
}

// RecordingsDir return recordings directory.
func (env Env) RecordingsDir() string {
	return filepath.Join(env.StorageDir, "recordings")
}

// LogDBPath return path to the log database.
func (env Env) LogDBPath() string {
	return filepath.Join(env.StorageDir, "logs.db")
}

// PrepareEnvironment prepares directories.
func (env Env) PrepareEnvironment() error {
	err := os.MkdirAll(env.RecordingsDir(), 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create recordings directory: %v: %w", env.StorageDir, err)
	}

	// Make sure env.TempDir isn't set to "/".
	if len(env.TempDir) <= 4 {
		panic(fmt.Sprintf("tempDir sanity check: %v", env.TempDir))
	}
	err = os.RemoveAll(env.TempDir)
	if err != nil {
		return fmt.Errorf("clear tempDir: %v: %w", env.TempDir, err)
	}

	err = os.MkdirAll(env.TempDir, 0o700)
	if err != nil {
		return fmt.Errorf("create tempDir: %v: %w", env.TempDir, err)
	}

	return nil
}

func fileExist(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
