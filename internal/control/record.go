// Package control persists the control file, the engine's bootstrap state.
// The control file is read before any other structure on disk is trusted:
// it fixes the page size, tells recovery where to start replaying the WAL
// and hands out object ids.
package control

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"wbtree/internal/base"
)

const (
	// FileName is the control file name under the data directory.
	FileName = "wbt_control"

	// AtomicIOSize is the largest write commodity storage is assumed to
	// persist all-or-nothing.
	AtomicIOSize = 512

	// WALSegmentSize is the size of every WAL segment file.
	WALSegmentSize = 16 * 1024 * 1024

	// MagicLen is the size of the magic field.
	MagicLen = 32
)

// Version is the packed engine version, major*1_000_000 + minor*1_000 + patch.
const Version = 0*1_000_000 + 1*1_000 + 0

// Magic identifies a control file. It is NUL-padded to MagicLen.
var Magic = [MagicLen]byte{'W', 'B', 'T', 'R', 'E', 'E', ' ', 'M', 'A', 'G', 'I', 'C'}

// On-disk layout, little-endian.
const (
	offMagic      = 0
	offVersion    = offMagic + MagicLen
	offPageSize   = offVersion + 8
	offRedoLSN    = offPageSize + 8
	offNextOid    = offRedoLSN + 8
	offWALSegment = offNextOid + 8
	offCRC        = offWALSegment + 8

	// Size is the encoded size of a Record.
	Size = offCRC + 4
)

// A Record that does not fit in one atomic write could be torn by a crash.
var _ [AtomicIOSize - Size]struct{}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is the content of the control file. The zero value is not a valid
// record, use New.
type Record struct {
	magic      [MagicLen]byte
	version    uint64
	pageSize   uint64
	redoLSN    base.LSN
	nextOid    base.Oid
	walSegment base.WALSegNum
	crc        uint32
}

// New returns the record of a freshly initialized data directory. The page
// size is fixed for the lifetime of the directory.
func New(pageSize uint64) Record {
	return Record{
		magic:      Magic,
		version:    Version,
		pageSize:   pageSize,
		redoLSN:    base.InvalidLSN,
		nextOid:    base.FirstOid,
		walSegment: 0,
	}
}

func (r Record) Magic() [MagicLen]byte             { return r.magic }
func (r Record) Version() uint64                   { return r.version }
func (r Record) PageSize() uint64                  { return r.pageSize }
func (r Record) RedoLSN() base.LSN                 { return r.redoLSN }
func (r Record) NextOid() base.Oid                 { return r.nextOid }
func (r Record) CurrentWALSegment() base.WALSegNum { return r.walSegment }

// MagicString returns the magic without its NUL padding.
func (r Record) MagicString() string { return magicString(r.magic) }

// Checksum returns the crc stored by the last Save or Load. It is derived
// data and cannot be set.
func (r Record) Checksum() uint32 { return r.crc }

// SetRedoLSN moves the point recovery replays from.
func (r *Record) SetRedoLSN(lsn base.LSN) {
	r.redoLSN = lsn
}

// AllocateOid consumes the next object id.
func (r *Record) AllocateOid() base.Oid {
	oid := r.nextOid
	r.nextOid = oid.Next()
	return oid
}

// SetCurrentWALSegment records the segment the WAL is writing to.
func (r *Record) SetCurrentWALSegment(seg base.WALSegNum) {
	r.walSegment = seg
}

func (r Record) String() string {
	return fmt.Sprintf("version=%s page_size=%d redo_lsn=%s next_oid=%d wal_segment=%d crc=%#08x",
		FormatVersion(r.version), r.pageSize, r.redoLSN, r.nextOid, r.walSegment, r.crc)
}

// MarshalBinary encodes r including its stored crc.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	r.encode(buf)
	return buf, nil
}

// UnmarshalBinary decodes data without validating it.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return fmt.Errorf("control: record needs %d bytes, got %d", Size, len(data))
	}
	r.decode(data)
	return nil
}

func (r *Record) encode(buf []byte) {
	copy(buf[offMagic:offVersion], r.magic[:])
	binary.LittleEndian.PutUint64(buf[offVersion:], r.version)
	binary.LittleEndian.PutUint64(buf[offPageSize:], r.pageSize)
	binary.LittleEndian.PutUint64(buf[offRedoLSN:], uint64(r.redoLSN))
	binary.LittleEndian.PutUint64(buf[offNextOid:], uint64(r.nextOid))
	binary.LittleEndian.PutUint64(buf[offWALSegment:], uint64(r.walSegment))
	binary.LittleEndian.PutUint32(buf[offCRC:], r.crc)
}

func (r *Record) decode(buf []byte) {
	copy(r.magic[:], buf[offMagic:offVersion])
	r.version = binary.LittleEndian.Uint64(buf[offVersion:])
	r.pageSize = binary.LittleEndian.Uint64(buf[offPageSize:])
	r.redoLSN = base.LSN(binary.LittleEndian.Uint64(buf[offRedoLSN:]))
	r.nextOid = base.Oid(binary.LittleEndian.Uint64(buf[offNextOid:]))
	r.walSegment = base.WALSegNum(binary.LittleEndian.Uint64(buf[offWALSegment:]))
	r.crc = binary.LittleEndian.Uint32(buf[offCRC:])
}

// checksum is the CRC-32C of every encoded byte preceding the crc field.
func checksum(buf []byte) uint32 {
	return crc32.Checksum(buf[:offCRC], castagnoli)
}

// seal stores the checksum of r's current fields and encodes r into buf.
func (r *Record) seal(buf []byte) {
	r.encode(buf)
	r.crc = checksum(buf)
	binary.LittleEndian.PutUint32(buf[offCRC:], r.crc)
}

// FormatVersion renders a packed version as major.minor.patch.
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1_000_000, v/1_000%1_000, v%1_000)
}
