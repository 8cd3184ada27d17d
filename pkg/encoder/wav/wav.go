// Package wav writes 16 bit PCM WAV files.
package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"mediarec/pkg/encoder"
)

const headerSize = 44

// Encoder writes interleaved float samples as 16 bit PCM.
type Encoder struct {
	path   string
	file   *os.File
	out    *bufio.Writer
	config encoder.AudioConfig

	buf      []byte
	samples  int64
	writeErr error
}

// ErrInvalidConfig invalid sample rate or channel count.
var ErrInvalidConfig = errors.New("invalid audio config")

// New creates the file at path and writes a placeholder header.
func New(path string, config encoder.AudioConfig) (*Encoder, error) {
	if config.SampleRate <= 0 || config.ChannelCount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, config)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	e := &Encoder{
		path:   path,
		file:   file,
		out:    bufio.NewWriter(file),
		config: config,
	}
	if _, err := e.out.Write(make([]byte, headerSize)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	return e, nil
}

// FrameSize returns zero, WAV has no video.
func (e *Encoder) FrameSize() (int, int) {
	return 0, 0
}

// CommitFrame is not implemented.
func (e *Encoder) CommitFrame([]byte, int64) encoder.Status {
	return encoder.StatusNotImplemented
}

// CommitSamples appends samples, the timestamp is ignored.
func (e *Encoder) CommitSamples(samples []float32, _ int64) encoder.Status {
	if len(samples)%e.config.ChannelCount != 0 {
		return encoder.StatusInvalidArgument
	}
	if e.writeErr != nil {
		return encoder.StatusOK
	}

	size := len(samples) * 2
	if cap(e.buf) < size {
		e.buf = make([]byte, size)
	}
	buf := e.buf[:size]
	encoder.PutPCM16(buf, samples)

	if _, err := e.out.Write(buf); err != nil {
		e.writeErr = err
		return encoder.StatusOK
	}
	e.samples += int64(len(samples))
	return encoder.StatusOK
}

// Finish writes the header and closes the file.
func (e *Encoder) Finish() (string, error) {
	err := e.finish()
	if err != nil {
		e.file.Close()
		os.Remove(e.path)
		return "", err
	}
	return e.path, nil
}

func (e *Encoder) finish() error {
	if e.writeErr != nil {
		return fmt.Errorf("write samples: %w", e.writeErr)
	}
	if err := e.out.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	dataSize := uint32(e.samples * 2)
	header := Header(e.config, dataSize)
	if _, err := e.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Header returns the 44 byte header for dataSize bytes of samples.
func Header(config encoder.AudioConfig, dataSize uint32) []byte {
	const bytesPerSample = 2
	blockAlign := config.ChannelCount * bytesPerSample
	byteRate := config.SampleRate * blockAlign

	header := make([]byte, 0, headerSize)
	header = append(header, "RIFF"...)
	header = binary.LittleEndian.AppendUint32(header, headerSize-8+dataSize)
	header = append(header, "WAVE"...)

	header = append(header, "fmt "...)
	header = binary.LittleEndian.AppendUint32(header, 16)
	header = binary.LittleEndian.AppendUint16(header, 1) // PCM.
	header = binary.LittleEndian.AppendUint16(header, uint16(config.ChannelCount))
	header = binary.LittleEndian.AppendUint32(header, uint32(config.SampleRate))
	header = binary.LittleEndian.AppendUint32(header, uint32(byteRate))
	header = binary.LittleEndian.AppendUint16(header, uint16(blockAlign))
	header = binary.LittleEndian.AppendUint16(header, bytesPerSample*8)

	header = append(header, "data"...)
	header = binary.LittleEndian.AppendUint32(header, dataSize)
	return header
}

// ReadHeader parses the format and data size of a header written by Header.
func ReadHeader(r io.Reader) (encoder.AudioConfig, uint32, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return encoder.AudioConfig{}, 0, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return encoder.AudioConfig{}, 0, ErrNotWAV
	}
	config := encoder.AudioConfig{
		ChannelCount: int(binary.LittleEndian.Uint16(header[22:])),
		SampleRate:   int(binary.LittleEndian.Uint32(header[24:])),
	}
	return config, binary.LittleEndian.Uint32(header[40:]), nil
}

// ErrNotWAV not a WAV file.
var ErrNotWAV = errors.New("not a wav file")
