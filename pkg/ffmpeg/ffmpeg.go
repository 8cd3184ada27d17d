// Package ffmpeg runs ffmpeg subprocesses.
package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Process runs a subprocess, the interface is used for mocking.
type Process interface {
	Start(ctx context.Context) error
	SetTimeout(time.Duration)
	SetPrefix(string)
	SetStdoutLogger(LogFunc)
	SetStderrLogger(LogFunc)
}

// LogFunc logs a line of process output.
type LogFunc func(string)

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	prefix       string
	stdoutLogger LogFunc
	stderrLogger LogFunc

	done chan struct{}
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return &process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

// SetTimeout sets how long to wait after
// interrupting the process before killing it.
func (p *process) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// SetPrefix sets the prefix of logged lines.
func (p *process) SetPrefix(prefix string) {
	p.prefix = prefix
}

// SetStdoutLogger sets the stdout logger.
func (p *process) SetStdoutLogger(l LogFunc) {
	p.stdoutLogger = l
}

// SetStderrLogger sets the stderr logger.
func (p *process) SetStderrLogger(l LogFunc) {
	p.stderrLogger = l
}

func (p *process) attachLogger(l LogFunc, label string, stdPipe func() (io.ReadCloser, error)) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	go func() {
		for scanner.Scan() {
			l(p.prefix + label + ": " + scanner.Text())
		}
	}()
	return nil
}

// Start starts process with context and waits for it to exit.
func (p *process) Start(ctx context.Context) error {
	if p.stdoutLogger != nil {
		if err := p.attachLogger(p.stdoutLogger, "stdout", p.cmd.StdoutPipe); err != nil {
			return err
		}
	}
	if p.stderrLogger != nil {
		if err := p.attachLogger(p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.done = make(chan struct{})

	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()

	err := p.cmd.Wait()
	close(p.done)

	// FFmpeg seems to return 255 on normal exit.
	if err != nil && err.Error() == "exit status 255" {
		return nil
	}

	return err
}

// Note, can't use CommandContext to stop process as it would
// kill the process before it has a chance to exit on its own.
func (p *process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}

// FFMPEG stores ffmpeg binary location.
type FFMPEG struct {
	command func(...string) *exec.Cmd
}

// New returns FFMPEG.
func New(bin string) *FFMPEG {
	command := func(args ...string) *exec.Cmd {
		return exec.Command(bin, args...)
	}
	return &FFMPEG{command: command}
}

// NewWithCommand returns FFMPEG that uses command to create processes.
func NewWithCommand(command func(...string) *exec.Cmd) *FFMPEG {
	return &FFMPEG{command: command}
}

// Command returns a ffmpeg command with args.
func (f *FFMPEG) Command(args ...string) *exec.Cmd {
	return f.command(args...)
}

// ParseArgs slices arguments.
func ParseArgs(args string) []string {
	return strings.Split(strings.TrimSpace(args), " ")
}
