// Package mp4enc writes MP4 files with Motion-JPEG
// video and 16 bit PCM audio without external tools.
package mp4enc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"time"

	"mediarec/pkg/encoder"
	"mediarec/pkg/mp4"
)

// Track constants.
const (
	VideoTrackID   = 1
	AudioTrackID   = 2
	VideoTimescale = 90000

	movieTimescale = 1000
	jpegQuality    = 90
)

var ftyp = &mp4.Ftyp{
	MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
	MinorVersion: 512,
	CompatibleBrands: [][4]byte{
		{'i', 's', 'o', 'm'},
		{'i', 's', 'o', '2'},
		{'m', 'p', '4', '1'},
	},
}

// Encoder streams samples into the mdat box and writes moov when finished.
//
//	ftyp
//	mdat  // Size is patched when finished.
//	moov
type Encoder struct {
	path   string
	file   *os.File
	out    *bufio.Writer
	config encoder.VideoConfig

	mdatStart int64
	mdatPos   uint32
	writeErr  error

	jpegBuf  bytes.Buffer
	audioBuf []byte

	hasPrevFrame  bool
	prevTimestamp int64

	videoStts []mp4.SttsEntry
	videoStsc []mp4.StscEntry
	videoStsz []uint32
	videoStco []uint32

	audioSamples uint32 // PCM frames.
	audioStsc    []mp4.StscEntry
	audioStco    []uint32

	prevChunkVideo bool
	prevChunkAudio bool
}

// ErrInvalidConfig invalid frame size or rate.
var ErrInvalidConfig = errors.New("invalid mp4 config")

// New creates the file at path and writes the file header.
func New(path string, config encoder.VideoConfig) (*Encoder, error) {
	if config.Width <= 0 || config.Height <= 0 || config.FrameRate <= 0 {
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

	header, err := (&mp4.Boxes{Box: ftyp}).Bytes()
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("marshal ftyp: %w", err)
	}
	e.mdatStart = int64(len(header))

	// mdat header placeholder.
	header = append(header, 0, 0, 0, 0, 'm', 'd', 'a', 't')
	if _, err := e.out.Write(header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write header: %w", err)
	}
	return e, nil
}

// FrameSize returns the frame size.
func (e *Encoder) FrameSize() (int, int) {
	return e.config.Width, e.config.Height
}

// CommitFrame encodes the frame as JPEG.
func (e *Encoder) CommitFrame(pixels []byte, timestamp int64) encoder.Status {
	if !encoder.ValidFrame(pixels, e.config.Width, e.config.Height) {
		return encoder.StatusInvalidArgument
	}
	if e.writeErr != nil {
		return encoder.StatusOK
	}

	img := &image.RGBA{
		Pix:    pixels,
		Stride: e.config.Width * 4,
		Rect:   image.Rect(0, 0, e.config.Width, e.config.Height),
	}
	e.jpegBuf.Reset()
	if err := jpeg.Encode(&e.jpegBuf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		e.writeErr = fmt.Errorf("encode jpeg: %w", err)
		return encoder.StatusOK
	}

	if e.hasPrevFrame {
		e.appendVideoDelta(nanoToTimescale(timestamp-e.prevTimestamp, VideoTimescale))
	}
	e.hasPrevFrame = true
	e.prevTimestamp = timestamp

	if !e.prevChunkVideo {
		e.videoStco = append(e.videoStco, e.chunkOffset())
		e.videoStsc = append(e.videoStsc, mp4.StscEntry{
			FirstChunk:             uint32(len(e.videoStco)),
			SampleDescriptionIndex: 1,
		})
		e.prevChunkVideo = true
		e.prevChunkAudio = false
	}
	e.videoStsc[len(e.videoStsc)-1].SamplesPerChunk++

	size := uint32(e.jpegBuf.Len())
	e.videoStsz = append(e.videoStsz, size)
	e.writeMdat(e.jpegBuf.Bytes())
	return encoder.StatusOK
}

func (e *Encoder) appendVideoDelta(delta int64) {
	if delta < 1 {
		delta = 1
	}
	if len(e.videoStts) > 0 && e.videoStts[len(e.videoStts)-1].SampleDelta == uint32(delta) {
		e.videoStts[len(e.videoStts)-1].SampleCount++
		return
	}
	e.videoStts = append(e.videoStts, mp4.SttsEntry{
		SampleCount: 1,
		SampleDelta: uint32(delta),
	})
}

// CommitSamples appends PCM16 samples, the timestamp is ignored.
func (e *Encoder) CommitSamples(samples []float32, _ int64) encoder.Status {
	if !e.config.HasAudio() {
		return encoder.StatusNotImplemented
	}
	if len(samples)%e.config.ChannelCount != 0 {
		return encoder.StatusInvalidArgument
	}
	if e.writeErr != nil || len(samples) == 0 {
		return encoder.StatusOK
	}

	frames := uint32(len(samples) / e.config.ChannelCount)
	if !e.prevChunkAudio {
		e.audioStco = append(e.audioStco, e.chunkOffset())
		e.audioStsc = append(e.audioStsc, mp4.StscEntry{
			FirstChunk:             uint32(len(e.audioStco)),
			SampleDescriptionIndex: 1,
		})
		e.prevChunkVideo = false
		e.prevChunkAudio = true
	}
	e.audioStsc[len(e.audioStsc)-1].SamplesPerChunk += frames
	e.audioSamples += frames

	size := len(samples) * 2
	if cap(e.audioBuf) < size {
		e.audioBuf = make([]byte, size)
	}
	buf := e.audioBuf[:size]
	encoder.PutPCM16(buf, samples)
	e.writeMdat(buf)
	return encoder.StatusOK
}

// ErrTooLarge mdat exceeds 4GB.
var ErrTooLarge = errors.New("file too large")

func (e *Encoder) writeMdat(b []byte) {
	if uint64(e.mdatPos)+uint64(len(b)) > math.MaxUint32-uint64(e.mdatStart)-8 {
		e.writeErr = ErrTooLarge
		return
	}
	if _, err := e.out.Write(b); err != nil {
		e.writeErr = err
		return
	}
	e.mdatPos += uint32(len(b))
}

func (e *Encoder) chunkOffset() uint32 {
	return uint32(e.mdatStart) + 8 + e.mdatPos
}

// ErrNoSamples nothing was committed.
var ErrNoSamples = errors.New("no samples")

// Finish writes moov and patches the mdat size.
func (e *Encoder) Finish() (string, error) {
	if err := e.finish(); err != nil {
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
	if len(e.videoStsz) == 0 && e.audioSamples == 0 {
		return ErrNoSamples
	}
	if e.hasPrevFrame {
		e.appendVideoDelta(int64(math.Round(VideoTimescale / e.config.FrameRate)))
	}

	moov, err := e.generateMoov().Bytes()
	if err != nil {
		return fmt.Errorf("marshal moov: %w", err)
	}
	if _, err := e.out.Write(moov); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}
	if err := e.out.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	mdatSize := make([]byte, 4)
	binary.BigEndian.PutUint32(mdatSize, 8+e.mdatPos)
	if _, err := e.file.WriteAt(mdatSize, e.mdatStart); err != nil {
		return fmt.Errorf("write mdat size: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (e *Encoder) videoDuration() time.Duration {
	var ticks int64
	for _, entry := range e.videoStts {
		ticks += int64(entry.SampleCount) * int64(entry.SampleDelta)
	}
	return time.Duration(ticks * int64(time.Second) / VideoTimescale)
}

func (e *Encoder) audioDuration() time.Duration {
	if !e.config.HasAudio() {
		return 0
	}
	return time.Duration(int64(e.audioSamples) * int64(time.Second) / int64(e.config.SampleRate))
}

func (e *Encoder) generateMoov() *mp4.Boxes {
	/*
	   moov
	   - mvhd
	   - trak (video)
	   - trak (audio)
	*/

	duration := e.videoDuration()
	if audio := e.audioDuration(); audio > duration {
		duration = audio
	}

	nextTrackID := uint32(VideoTrackID + 1)
	if e.config.HasAudio() {
		nextTrackID = AudioTrackID + 1
	}

	moov := &mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				Timescale:   movieTimescale,
				Duration:    uint64(duration.Milliseconds()),
				Rate:        65536,
				Volume:      256,
				Matrix:      mp4.Identity,
				NextTrackID: nextTrackID,
			}},
			e.generateVideoTrak(),
		},
	}
	if e.config.HasAudio() {
		moov.Children = append(moov.Children, e.generateAudioTrak())
	}
	return moov
}

func (e *Encoder) generateVideoTrak() mp4.Boxes {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	duration := e.videoDuration()
	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox: mp4.FullBox{
					Flags: [3]byte{0, 0, mp4.TrackFlagsAll},
				},
				TrackID:  VideoTrackID,
				Duration: uint64(duration.Milliseconds()),
				Width:    uint32(e.config.Width * 65536),
				Height:   uint32(e.config.Height * 65536),
				Matrix:   mp4.Identity,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						Timescale: VideoTimescale,
						Language:  [3]byte{'u', 'n', 'd'},
						Duration:  uint64(nanoToTimescale(int64(duration), VideoTimescale)),
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'v', 'i', 'd', 'e'},
						Name:        "VideoHandler",
					}},
					{
						Box: &mp4.Minf{},
						Children: []mp4.Boxes{
							{Box: &mp4.Vmhd{
								FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
							}},
							generateDinf(),
							e.generateVideoStbl(),
						},
					},
				},
			},
		},
	}
}

func (e *Encoder) generateVideoStbl() mp4.Boxes {
	/*
	   stbl
	   - stsd
	     - jpeg
	   - stts
	   - stsc
	   - stsz
	   - stco
	*/

	// Every JPEG sample is a sync sample, stss is omitted.
	return mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{Box: &mp4.VisualSampleEntry{
						SampleEntry: mp4.SampleEntry{
							DataReferenceIndex: 1,
						},
						EntryType:       mp4.JPEG,
						Width:           uint16(e.config.Width),
						Height:          uint16(e.config.Height),
						Horizresolution: 72 << 16,
						Vertresolution:  72 << 16,
						FrameCount:      1,
						Compressorname:  "Photo - JPEG",
						Depth:           24,
					}},
				},
			},
			{Box: &mp4.Stts{
				Entries: e.videoStts,
			}},
			{Box: &mp4.Stsc{
				Entries: e.videoStsc,
			}},
			{Box: &mp4.Stsz{
				SampleCount: uint32(len(e.videoStsz)),
				EntrySizes:  e.videoStsz,
			}},
			{Box: &mp4.Stco{
				ChunkOffsets: e.videoStco,
			}},
		},
	}
}

func (e *Encoder) generateAudioTrak() mp4.Boxes {
	rate := uint32(e.config.SampleRate)
	duration := e.audioDuration()
	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox: mp4.FullBox{
					Flags: [3]byte{0, 0, mp4.TrackFlagsAll},
				},
				TrackID:        AudioTrackID,
				Duration:       uint64(duration.Milliseconds()),
				AlternateGroup: 1,
				Volume:         256,
				Matrix:         mp4.Identity,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						Timescale: rate,
						Language:  [3]byte{'u', 'n', 'd'},
						Duration:  uint64(e.audioSamples),
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'s', 'o', 'u', 'n'},
						Name:        "SoundHandler",
					}},
					{
						Box: &mp4.Minf{},
						Children: []mp4.Boxes{
							{Box: &mp4.Smhd{}},
							generateDinf(),
							e.generateAudioStbl(),
						},
					},
				},
			},
		},
	}
}

func (e *Encoder) generateAudioStbl() mp4.Boxes {
	/*
	   stbl
	   - stsd
	     - sowt
	   - stts
	   - stsc
	   - stsz
	   - stco
	*/

	// One sample per PCM frame.
	var stts []mp4.SttsEntry
	if e.audioSamples > 0 {
		stts = []mp4.SttsEntry{{SampleCount: e.audioSamples, SampleDelta: 1}}
	}

	return mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{Box: &mp4.AudioSampleEntry{
						SampleEntry: mp4.SampleEntry{
							DataReferenceIndex: 1,
						},
						EntryType:    mp4.Sowt,
						ChannelCount: uint16(e.config.ChannelCount),
						SampleSize:   16,
						SampleRate:   uint32(e.config.SampleRate) << 16,
					}},
				},
			},
			{Box: &mp4.Stts{
				Entries: stts,
			}},
			{Box: &mp4.Stsc{
				Entries: e.audioStsc,
			}},
			{Box: &mp4.Stsz{
				SampleSize:  uint32(e.config.ChannelCount * 2),
				SampleCount: e.audioSamples,
			}},
			{Box: &mp4.Stco{
				ChunkOffsets: e.audioStco,
			}},
		},
	}
}

func generateDinf() mp4.Boxes {
	/*
	   dinf
	   - dref
	     - url
	*/
	return mp4.Boxes{
		Box: &mp4.Dinf{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Dref{EntryCount: 1},
				Children: []mp4.Boxes{
					{Box: &mp4.URL{
						FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.URLSelfContained}},
					}},
				},
			},
		},
	}
}

func nanoToTimescale(v int64, timescale int64) int64 {
	secs := v / int64(time.Second)
	dec := v % int64(time.Second)
	return secs*timescale + dec*timescale/int64(time.Second)
}
