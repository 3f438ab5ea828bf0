package models

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Core annotation values understood by Zipkin.
const (
	ClientSend         = "cs"
	ClientRecv         = "cr"
	ServerSend         = "ss"
	ServerRecv         = "sr"
	ClientSendFragment = "csf"
	ClientRecvFragment = "crf"
	ServerSendFragment = "ssf"
	ServerRecvFragment = "srf"
	WireSend           = "ws"
	WireRecv           = "wr"
)

// Binary annotation keys marking the remote peer of a span.
const (
	ClientAddrKey = "ca"
	ServerAddrKey = "sa"
)

// Annotation is a point in time event recorded against a span.
type Annotation struct {
	Timestamp time.Time
	Value     string
	Host      Endpoint
	// Duration is optional, zero means it was not recorded.
	Duration time.Duration
}

// AnnotationType is the wire type of a BinaryAnnotation value.
type AnnotationType int32

// Wire values of AnnotationType.
const (
	AnnotationTypeBool AnnotationType = iota
	AnnotationTypeBytes
	AnnotationTypeI16
	AnnotationTypeI32
	AnnotationTypeI64
	AnnotationTypeDouble
	AnnotationTypeString
)

func (a AnnotationType) String() string {
	switch a {
	case AnnotationTypeBool:
		return "BOOL"
	case AnnotationTypeBytes:
		return "BYTES"
	case AnnotationTypeI16:
		return "I16"
	case AnnotationTypeI32:
		return "I32"
	case AnnotationTypeI64:
		return "I64"
	case AnnotationTypeDouble:
		return "DOUBLE"
	case AnnotationTypeString:
		return "STRING"
	}
	return fmt.Sprintf("AnnotationType(%d)", int32(a))
}

// BinaryAnnotation is a key/value tag. Value holds the big endian encoding
// of the typed value described by Type.
type BinaryAnnotation struct {
	Key   string
	Value []byte
	Type  AnnotationType
	Host  Endpoint
}

// Bool returns a BOOL binary annotation.
func Bool(key string, v bool) BinaryAnnotation {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	return BinaryAnnotation{Key: key, Value: b, Type: AnnotationTypeBool}
}

// Bytes returns a BYTES binary annotation. v is copied.
func Bytes(key string, v []byte) BinaryAnnotation {
	return BinaryAnnotation{Key: key, Value: append([]byte(nil), v...), Type: AnnotationTypeBytes}
}

// Int16 returns an I16 binary annotation.
func Int16(key string, v int16) BinaryAnnotation {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return BinaryAnnotation{Key: key, Value: b, Type: AnnotationTypeI16}
}

// Int32 returns an I32 binary annotation.
func Int32(key string, v int32) BinaryAnnotation {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return BinaryAnnotation{Key: key, Value: b, Type: AnnotationTypeI32}
}

// Int64 returns an I64 binary annotation.
func Int64(key string, v int64) BinaryAnnotation {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return BinaryAnnotation{Key: key, Value: b, Type: AnnotationTypeI64}
}

// Double returns a DOUBLE binary annotation.
func Double(key string, v float64) BinaryAnnotation {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return BinaryAnnotation{Key: key, Value: b, Type: AnnotationTypeDouble}
}

// String returns a STRING binary annotation.
func String(key string, v string) BinaryAnnotation {
	return BinaryAnnotation{Key: key, Value: []byte(v), Type: AnnotationTypeString}
}

// ValueString renders the typed value in human readable form.
func (b BinaryAnnotation) ValueString() string {
	switch b.Type {
	case AnnotationTypeBool:
		if len(b.Value) == 1 {
			return fmt.Sprint(b.Value[0] != 0)
		}
	case AnnotationTypeI16:
		if len(b.Value) == 2 {
			return fmt.Sprint(int16(binary.BigEndian.Uint16(b.Value)))
		}
	case AnnotationTypeI32:
		if len(b.Value) == 4 {
			return fmt.Sprint(int32(binary.BigEndian.Uint32(b.Value)))
		}
	case AnnotationTypeI64:
		if len(b.Value) == 8 {
			return fmt.Sprint(int64(binary.BigEndian.Uint64(b.Value)))
		}
	case AnnotationTypeDouble:
		if len(b.Value) == 8 {
			return fmt.Sprint(math.Float64frombits(binary.BigEndian.Uint64(b.Value)))
		}
	case AnnotationTypeString:
		return string(b.Value)
	}
	return fmt.Sprintf("%x", b.Value)
}
