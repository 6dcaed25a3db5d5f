package vfs

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"time"
)

// RootIno is the inode number reported for the root of a backend.
const RootIno uint64 = 0

// Serialized inode sizes. The current layout appends the 8-byte ID to the
// legacy layout.
const (
	InodeSize       = 66
	LegacyInodeSize = InodeSize - 8
)

// Inode is the fixed-layout metadata record a backend stores for every entry.
type Inode struct {
	Data        uint64 // backend-private handle
	Size        uint32
	Mode        uint16
	Nlink       uint32
	UID         uint32
	GID         uint32
	AtimeMs     float64
	BirthtimeMs float64
	MtimeMs     float64
	CtimeMs     float64
	ID          uint64 // diagnostics only; never unique or used for lookup
}

type encoding uint8

const (
	encUint16 encoding = iota
	encUint32
	encUint64
	encFloat64
)

// inodeField describes one field of the on-disk layout. Values travel as raw
// uint64 bits so one routine encodes and decodes every width.
type inodeField struct {
	name   string
	offset int
	enc    encoding
	get    func(*Inode) uint64
	set    func(*Inode, uint64)
}

func (f inodeField) width() int {
	switch f.enc {
	case encUint16:
		return 2
	case encUint32:
		return 4
	default:
		return 8
	}
}

func float64Field(name string, offset int, p func(*Inode) *float64) inodeField {
	return inodeField{
		name:   name,
		offset: offset,
		enc:    encFloat64,
		get:    func(i *Inode) uint64 { return math.Float64bits(*p(i)) },
		set:    func(i *Inode, v uint64) { *p(i) = math.Float64frombits(v) },
	}
}

func uint32Field(name string, offset int, p func(*Inode) *uint32) inodeField {
	return inodeField{
		name:   name,
		offset: offset,
		enc:    encUint32,
		get:    func(i *Inode) uint64 { return uint64(*p(i)) },
		set:    func(i *Inode, v uint64) { *p(i) = uint32(v) },
	}
}

// inodeLayout is the packed little-endian field table. The order is stable
// across versions; new fields are only ever appended.
var inodeLayout = []inodeField{
	{
		name: "data", offset: 0, enc: encUint64,
		get: func(i *Inode) uint64 { return i.Data },
		set: func(i *Inode, v uint64) { i.Data = v },
	},
	uint32Field("size", 8, func(i *Inode) *uint32 { return &i.Size }),
	{
		name: "mode", offset: 12, enc: encUint16,
		get: func(i *Inode) uint64 { return uint64(i.Mode) },
		set: func(i *Inode, v uint64) { i.Mode = uint16(v) },
	},
	uint32Field("nlink", 14, func(i *Inode) *uint32 { return &i.Nlink }),
	uint32Field("uid", 18, func(i *Inode) *uint32 { return &i.UID }),
	uint32Field("gid", 22, func(i *Inode) *uint32 { return &i.GID }),
	float64Field("atimeMs", 26, func(i *Inode) *float64 { return &i.AtimeMs }),
	float64Field("birthtimeMs", 34, func(i *Inode) *float64 { return &i.BirthtimeMs }),
	float64Field("mtimeMs", 42, func(i *Inode) *float64 { return &i.MtimeMs }),
	float64Field("ctimeMs", 50, func(i *Inode) *float64 { return &i.CtimeMs }),
	{
		name: "ino", offset: 58, enc: encUint64,
		get: func(i *Inode) uint64 { return i.ID },
		set: func(i *Inode, v uint64) { i.ID = v },
	},
}

// NewInode returns a fresh inode: one link, size 4096, all timestamps set to
// now, random data handle and ID.
func NewInode() *Inode {
	now := nowMs()
	return &Inode{
		Data:        rand.Uint64(),
		ID:          rand.Uint64(),
		Nlink:       1,
		Size:        4096,
		AtimeMs:     now,
		BirthtimeMs: now,
		MtimeMs:     now,
		CtimeMs:     now,
	}
}

// InodeFromBuffer decodes an inode. Buffers shorter than LegacyInodeSize are
// rejected; legacy-sized buffers get a synthesized random ID which carries no
// meaning.
func InodeFromBuffer(b []byte) (*Inode, error) {
	if len(b) < LegacyInodeSize {
		return nil, NewError(KindFormat, "inode", "").
			withDetail("buffer of %d bytes is shorter than %d", len(b), LegacyInodeSize)
	}

	if len(b) < InodeSize {
		padded := make([]byte, InodeSize)
		copy(padded, b)
		binary.LittleEndian.PutUint64(padded[LegacyInodeSize:], randomNonZero())
		b = padded
	}

	ino := new(Inode)
	for _, f := range inodeLayout {
		field := b[f.offset : f.offset+f.width()]
		switch f.enc {
		case encUint16:
			f.set(ino, uint64(binary.LittleEndian.Uint16(field)))
		case encUint32:
			f.set(ino, uint64(binary.LittleEndian.Uint32(field)))
		default:
			f.set(ino, binary.LittleEndian.Uint64(field))
		}
	}
	return ino, nil
}

// MarshalBinary encodes the inode in the current layout.
func (ino *Inode) MarshalBinary() ([]byte, error) {
	return ino.Bytes(), nil
}

// UnmarshalBinary decodes b into ino, accepting legacy-sized buffers.
func (ino *Inode) UnmarshalBinary(b []byte) error {
	decoded, err := InodeFromBuffer(b)
	if err != nil {
		return err
	}
	*ino = *decoded
	return nil
}

// Bytes returns the InodeSize-byte encoding of ino.
func (ino *Inode) Bytes() []byte {
	b := make([]byte, InodeSize)
	for _, f := range inodeLayout {
		field := b[f.offset : f.offset+f.width()]
		v := f.get(ino)
		switch f.enc {
		case encUint16:
			binary.LittleEndian.PutUint16(field, uint16(v))
		case encUint32:
			binary.LittleEndian.PutUint32(field, uint32(v))
		default:
			binary.LittleEndian.PutUint64(field, v)
		}
	}
	return b
}

// Clone returns a copy of ino.
func (ino *Inode) Clone() *Inode {
	c := *ino
	return &c
}

// ToStats projects the inode onto a Stats value.
func (ino *Inode) ToStats() *Stats {
	return newStats(ino)
}

// Update copies every field of stats that differs from the inode and reports
// whether anything changed. The birth time is never updated.
func (ino *Inode) Update(stats *Stats) bool {
	changed := false

	if size := uint32(stats.Size); ino.Size != size {
		ino.Size = size
		changed = true
	}

	if mode := uint16(stats.Mode); ino.Mode != mode {
		ino.Mode = mode
		changed = true
	}

	if ino.Nlink != stats.Nlink {
		ino.Nlink = stats.Nlink
		changed = true
	}

	if ino.UID != stats.UID {
		ino.UID = stats.UID
		changed = true
	}

	if ino.GID != stats.GID {
		ino.GID = stats.GID
		changed = true
	}

	if ino.AtimeMs != stats.AtimeMs {
		ino.AtimeMs = stats.AtimeMs
		changed = true
	}

	if ino.MtimeMs != stats.MtimeMs {
		ino.MtimeMs = stats.MtimeMs
		changed = true
	}

	if ino.CtimeMs != stats.CtimeMs {
		ino.CtimeMs = stats.CtimeMs
		changed = true
	}

	return changed
}

// IsDir reports whether the inode describes a directory.
func (ino *Inode) IsDir() bool { return uint32(ino.Mode)&S_IFMT == S_IFDIR }

// IsSymlink reports whether the inode describes a symbolic link.
func (ino *Inode) IsSymlink() bool { return uint32(ino.Mode)&S_IFMT == S_IFLNK }

func randomNonZero() uint64 {
	for {
		if v := rand.Uint64(); v != 0 {
			return v
		}
	}
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}

func msToTime(ms float64) time.Time {
	return time.Unix(0, int64(ms*float64(time.Millisecond)))
}

func timeToMs(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}
