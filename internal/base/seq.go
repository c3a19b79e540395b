package base

import "fmt"

// LSN is a log sequence number: the byte position of a record in the
// write-ahead log stream. LSNs grow monotonically for the lifetime of a data
// directory and recovery replays the log starting at the redo LSN recorded in
// the control file.
type LSN uint64

// InvalidLSN is never assigned to a log record.
const InvalidLSN LSN = 0

func (l LSN) String() string {
	return fmt.Sprintf("%X/%08X", uint32(l>>32), uint32(l))
}

// Oid identifies a relation or any other object that owns pages. Oids are
// handed out in increasing order and never reused.
type Oid uint64

// InvalidOid is never handed out by the allocator.
const InvalidOid Oid = 0

// FirstOid is the first oid of a freshly initialized data directory.
const FirstOid Oid = 1

// Next returns the oid following o.
func (o Oid) Next() Oid {
	return o + 1
}

// WALSegNum numbers the fixed size files the write-ahead log is split into.
type WALSegNum uint64

// Next returns the segment following s.
func (s WALSegNum) Next() WALSegNum {
	return s + 1
}
