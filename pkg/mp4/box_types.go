package mp4

import (
	"github.com/icza/bitio"
)

// Identity matrix used by mvhd and tkhd.
var Identity = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags.
func (b *FullBox) GetFlags() uint32 {
	flag := uint32(b.Flags[0]) << 16
	flag ^= uint32(b.Flags[1]) << 8
	flag ^= uint32(b.Flags[2])
	return flag
}

// CheckFlag checks the flag status.
func (b *FullBox) CheckFlag(flag uint32) bool {
	return b.GetFlags()&flag != 0
}

// MarshalField box to writer.
func (b *FullBox) MarshalField(w *bitio.Writer) error {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
	return w.TryError
}

/*************************** containers ****************************/

// Moov is ISOBMFF moov box type.
type Moov struct{ container }

// Type returns the BoxType.
func (*Moov) Type() BoxType { return [4]byte{'m', 'o', 'o', 'v'} }

// Trak is ISOBMFF trak box type.
type Trak struct{ container }

// Type returns the BoxType.
func (*Trak) Type() BoxType { return [4]byte{'t', 'r', 'a', 'k'} }

// Mdia is ISOBMFF mdia box type.
type Mdia struct{ container }

// Type returns the BoxType.
func (*Mdia) Type() BoxType { return [4]byte{'m', 'd', 'i', 'a'} }

// Minf is ISOBMFF minf box type.
type Minf struct{ container }

// Type returns the BoxType.
func (*Minf) Type() BoxType { return [4]byte{'m', 'i', 'n', 'f'} }

// Dinf is ISOBMFF dinf box type.
type Dinf struct{ container }

// Type returns the BoxType.
func (*Dinf) Type() BoxType { return [4]byte{'d', 'i', 'n', 'f'} }

// Stbl is ISOBMFF stbl box type.
type Stbl struct{ container }

// Type returns the BoxType.
func (*Stbl) Type() BoxType { return [4]byte{'s', 't', 'b', 'l'} }

// Free is ISOBMFF free box type.
type Free struct{ container }

// Type returns the BoxType.
func (*Free) Type() BoxType { return [4]byte{'f', 'r', 'e', 'e'} }

// container is a box without fields.
type container struct{}

// Size returns the marshaled size in bytes.
func (container) Size() int { return 0 }

// Marshal is never called.
func (container) Marshal(*bitio.Writer) error { return nil }

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return [4]byte{'f', 't', 'y', 'p'}
}

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	writeUint32(w, b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             int32 // fixed-point 16.16 - template=0x00010000
	Volume           int16 // template=0x0100
	Matrix           [9]int32
	NextTrackID      uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType {
	return [4]byte{'m', 'v', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.FullBox.Version == 0 {
		return 100
	}
	return 112
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.Timescale)
	writeVersioned(w, b.Version, b.Duration)
	writeUint32(w, uint32(b.Rate))
	writeUint16(w, uint16(b.Volume))
	w.TryWrite(make([]byte, 10)) // Reserved.
	for _, v := range b.Matrix {
		writeUint32(w, uint32(v))
	}
	w.TryWrite(make([]byte, 24)) // Pre-defined.
	writeUint32(w, b.NextTrackID)
	return w.TryError
}

/*************************** tkhd ****************************/

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           int16 // template={if track_is_audio 0x0100 else 0}
	Matrix           [9]int32
	Width            uint32 // fixed-point 16.16
	Height           uint32 // fixed-point 16.16
}

// Track header flags.
const (
	TrackEnabled  = 0x000001
	TrackInMovie  = 0x000002
	TrackFlagsAll = TrackEnabled | TrackInMovie
)

// Type returns the BoxType.
func (*Tkhd) Type() BoxType {
	return [4]byte{'t', 'k', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.FullBox.Version == 0 {
		return 84
	}
	return 96
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.TrackID)
	writeUint32(w, 0) // Reserved.
	writeVersioned(w, b.Version, b.Duration)
	w.TryWrite(make([]byte, 8)) // Reserved.
	writeUint16(w, uint16(b.Layer))
	writeUint16(w, uint16(b.AlternateGroup))
	writeUint16(w, uint16(b.Volume))
	writeUint16(w, 0) // Reserved.
	for _, v := range b.Matrix {
		writeUint32(w, uint32(v))
	}
	writeUint32(w, b.Width)
	writeUint32(w, b.Height)
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         [3]byte // ISO-639-2/T language code
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType {
	return [4]byte{'m', 'd', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.FullBox.Version == 0 {
		return 24
	}
	return 36
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.Timescale)
	writeVersioned(w, b.Version, b.Duration)

	// 1 bit pad, 3x5 bit characters offset by 0x60.
	w.TryWriteBool(false)
	for _, c := range b.Language {
		w.TryWriteBits(uint64(c-0x60), 5)
	}
	writeUint16(w, 0) // Pre-defined.
	return w.TryError
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	HandlerType [4]byte
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType {
	return [4]byte{'h', 'd', 'l', 'r'}
}

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int {
	return 25 + len(b.Name)
}

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, 0) // Pre-defined.
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12)) // Reserved.
	w.TryWrite([]byte(b.Name + "\000"))
	return w.TryError
}

/*************************** vmhd ****************************/

// Vmhd is ISOBMFF vmhd box type.
type Vmhd struct {
	FullBox
	Graphicsmode uint16    // template=0
	Opcolor      [3]uint16 // template={0, 0, 0}
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType {
	return [4]byte{'v', 'm', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Vmhd) Size() int {
	return 12
}

// Marshal box to writer.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint16(w, b.Graphicsmode)
	for _, color := range b.Opcolor {
		writeUint16(w, color)
	}
	return w.TryError
}

/*************************** smhd ****************************/

// Smhd is ISOBMFF smhd box type.
type Smhd struct {
	FullBox
	Balance int16 // fixed-point 8.8 template=0
}

// Type returns the BoxType.
func (*Smhd) Type() BoxType {
	return [4]byte{'s', 'm', 'h', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Smhd) Size() int {
	return 8
}

// Marshal box to writer.
func (b *Smhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint16(w, uint16(b.Balance))
	writeUint16(w, 0) // Reserved.
	return w.TryError
}

/*************************** dref ****************************/

// Dref is ISOBMFF dref box type.
type Dref struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType {
	return [4]byte{'d', 'r', 'e', 'f'}
}

// Size returns the marshaled size in bytes.
func (b *Dref) Size() int {
	return 8
}

// Marshal box to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, b.EntryCount)
	return w.TryError
}

/*************************** url ****************************/

// URL is ISOBMFF url box type.
type URL struct {
	FullBox
	Location string
}

// URLSelfContained media data is in the same file.
const URLSelfContained = 0x000001

// Type returns the BoxType.
func (*URL) Type() BoxType {
	return [4]byte{'u', 'r', 'l', ' '}
}

// Size returns the marshaled size in bytes.
func (b *URL) Size() int {
	if !b.FullBox.CheckFlag(URLSelfContained) {
		return len(b.Location) + 5
	}
	return 4
}

// Marshal box to writer.
func (b *URL) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if !b.FullBox.CheckFlag(URLSelfContained) {
		w.TryWrite([]byte(b.Location + "\000"))
	}
	return w.TryError
}

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type.
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType {
	return [4]byte{'s', 't', 's', 'd'}
}

// Size returns the marshaled size in bytes.
func (b *Stsd) Size() int {
	return 8
}

// Marshal box to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, b.EntryCount)
	return w.TryError
}

// SampleEntry is the common header of sample entries.
type SampleEntry struct {
	DataReferenceIndex uint16
}

// Marshal entry to buffer.
func (b *SampleEntry) Marshal(w *bitio.Writer) error {
	w.TryWrite(make([]byte, 6)) // Reserved.
	writeUint16(w, b.DataReferenceIndex)
	return w.TryError
}

// VisualSampleEntry is a video sample description,
// the codec is identified by the entry type.
type VisualSampleEntry struct {
	SampleEntry
	EntryType       BoxType
	Width           uint16
	Height          uint16
	Horizresolution uint32 // fixed-point 16.16
	Vertresolution  uint32 // fixed-point 16.16
	FrameCount      uint16
	Compressorname  string // At most 31 bytes.
	Depth           uint16
}

// JPEG sample entry type for Motion-JPEG.
var JPEG = BoxType{'j', 'p', 'e', 'g'}

// Type returns the BoxType.
func (b *VisualSampleEntry) Type() BoxType {
	return b.EntryType
}

// Size returns the marshaled size in bytes.
func (b *VisualSampleEntry) Size() int {
	return 78
}

// Marshal box to writer.
func (b *VisualSampleEntry) Marshal(w *bitio.Writer) error {
	if err := b.SampleEntry.Marshal(w); err != nil {
		return err
	}
	w.TryWrite(make([]byte, 16)) // Pre-defined and reserved.
	writeUint16(w, b.Width)
	writeUint16(w, b.Height)
	writeUint32(w, b.Horizresolution)
	writeUint32(w, b.Vertresolution)
	writeUint32(w, 0) // Reserved.
	writeUint16(w, b.FrameCount)

	var name [32]byte
	n := copy(name[1:], b.Compressorname)
	name[0] = byte(n)
	w.TryWrite(name[:])

	writeUint16(w, b.Depth)
	writeUint16(w, 0xffff) // Pre-defined -1.
	return w.TryError
}

// AudioSampleEntry is a sound sample description,
// the codec is identified by the entry type.
type AudioSampleEntry struct {
	SampleEntry
	EntryType    BoxType
	ChannelCount uint16
	SampleSize   uint16
	SampleRate   uint32 // fixed-point 16.16
}

// Sowt sample entry type for 16 bit little-endian PCM.
var Sowt = BoxType{'s', 'o', 'w', 't'}

// Type returns the BoxType.
func (b *AudioSampleEntry) Type() BoxType {
	return b.EntryType
}

// Size returns the marshaled size in bytes.
func (b *AudioSampleEntry) Size() int {
	return 28
}

// Marshal box to writer.
func (b *AudioSampleEntry) Marshal(w *bitio.Writer) error {
	if err := b.SampleEntry.Marshal(w); err != nil {
		return err
	}
	w.TryWrite(make([]byte, 8)) // Reserved.
	writeUint16(w, b.ChannelCount)
	writeUint16(w, b.SampleSize)
	writeUint32(w, 0) // Pre-defined and reserved.
	writeUint32(w, b.SampleRate)
	return w.TryError
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// SttsEntry .
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Type returns the BoxType.
func (*Stts) Type() BoxType {
	return [4]byte{'s', 't', 't', 's'}
}

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int {
	return 8 + len(b.Entries)*8
}

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		writeUint32(w, entry.SampleCount)
		writeUint32(w, entry.SampleDelta)
	}
	return w.TryError
}

/*************************** stsc ****************************/

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType {
	return [4]byte{'s', 't', 's', 'c'}
}

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int {
	return 8 + len(b.Entries)*12
}

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		writeUint32(w, entry.FirstChunk)
		writeUint32(w, entry.SamplesPerChunk)
		writeUint32(w, entry.SampleDescriptionIndex)
	}
	return w.TryError
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type.
type Stsz struct {
	FullBox
	// Size of every sample, EntrySizes is ignored if non-zero.
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType {
	return [4]byte{'s', 't', 's', 'z'}
}

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int {
	if b.SampleSize != 0 {
		return 12
	}
	return 12 + len(b.EntrySizes)*4
}

// Marshal box to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, b.SampleSize)
	writeUint32(w, b.SampleCount)
	if b.SampleSize == 0 {
		for _, size := range b.EntrySizes {
			writeUint32(w, size)
		}
	}
	return w.TryError
}

/*************************** stco ****************************/

// Stco is ISOBMFF stco box type.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType {
	return [4]byte{'s', 't', 'c', 'o'}
}

// Size returns the marshaled size in bytes.
func (b *Stco) Size() int {
	return 8 + len(b.ChunkOffsets)*4
}

// Marshal box to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	writeUint32(w, uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		writeUint32(w, offset)
	}
	return w.TryError
}

func writeTimes(w *bitio.Writer, version uint8, creation, modification uint64) {
	writeVersioned(w, version, creation)
	writeVersioned(w, version, modification)
}

func writeVersioned(w *bitio.Writer, version uint8, v uint64) {
	if version == 0 {
		writeUint32(w, uint32(v))
	} else {
		writeUint64(w, v)
	}
}
