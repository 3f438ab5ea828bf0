package models

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// ID is a 64 bit trace or span identifier.
type ID uint64

// String returns the zero padded hex representation used by Zipkin.
func (i ID) String() string {
	return fmt.Sprintf("%016x", uint64(i))
}

// ParseID parses a hex encoded identifier of at most 16 characters.
func ParseID(s string) (ID, error) {
	if len(s) == 0 || len(s) > 16 {
		return 0, fmt.Errorf("invalid id %q: want 1 to 16 hex characters", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(v), nil
}

// Flags carries the trace level flags propagated with a TraceID.
type Flags uint64

// Known flag bits.
const (
	FlagDebug Flags = 1 << iota
	FlagSamplingKnown
	FlagSampled
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// TraceID identifies a single span within a trace. The zero ParentID means
// the span is a root span. TraceID is comparable and is used as a map key.
type TraceID struct {
	TraceID  ID
	ParentID ID
	SpanID   ID
	Flags    Flags
}

// HasParent reports whether the span has a parent span.
func (t TraceID) HasParent() bool {
	return t.ParentID != 0
}

// IsDebug reports whether the debug flag is set.
func (t TraceID) IsDebug() bool {
	return t.Flags.Has(FlagDebug)
}

func (t TraceID) String() string {
	if t.HasParent() {
		return t.TraceID.String() + "." + t.SpanID.String() + "<:" + t.ParentID.String()
	}
	return t.TraceID.String() + "." + t.SpanID.String()
}

// AppendBinary appends the fixed 32 byte form of t to b. The result is
// stable for equal TraceIDs and is suitable for hashing.
func (t TraceID) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, uint64(t.TraceID))
	b = binary.BigEndian.AppendUint64(b, uint64(t.ParentID))
	b = binary.BigEndian.AppendUint64(b, uint64(t.SpanID))
	return binary.BigEndian.AppendUint64(b, uint64(t.Flags))
}
